package portalauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter maintained by the engine.
type MetricID uint16

const (
	// MetricBindingRequested counts proof-of-control challenges issued.
	MetricBindingRequested MetricID = iota
	// MetricBindingVerified counts challenges completed successfully.
	MetricBindingVerified
	// MetricBindingFailed counts wrong-code verification attempts.
	MetricBindingFailed
	// MetricBindingExhausted counts challenges that hit the attempt cap.
	MetricBindingExhausted
	// MetricOAuthStarted counts provider redirects issued.
	MetricOAuthStarted
	// MetricOAuthLoginSuccess counts completed provider logins.
	MetricOAuthLoginSuccess
	// MetricOAuthLoginFailure counts failed provider logins.
	MetricOAuthLoginFailure
	// MetricPasswordLoginSuccess counts completed password logins.
	MetricPasswordLoginSuccess
	// MetricPasswordLoginFailure counts rejected password logins.
	MetricPasswordLoginFailure
	// MetricAccountProvisioned counts accounts auto-created on first login.
	MetricAccountProvisioned
	// MetricMFARequired counts logins parked behind a second factor.
	MetricMFARequired
	// MetricMFASuccess counts accepted second-factor codes.
	MetricMFASuccess
	// MetricMFAFailure counts rejected second-factor codes.
	MetricMFAFailure
	// MetricMFAReplayAttempt counts TOTP codes reused within a step.
	MetricMFAReplayAttempt
	// MetricBackupCodeUsed counts backup codes redeemed.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed counts rejected backup codes.
	MetricBackupCodeFailed
	// MetricBackupCodeRegenerated counts backup code set rotations.
	MetricBackupCodeRegenerated
	// MetricRateLimitHit counts requests refused by any limiter.
	MetricRateLimitHit
	// MetricSessionIssued counts session tokens signed.
	MetricSessionIssued
	// MetricSessionRevoked counts single-session revocations.
	MetricSessionRevoked
	// MetricSessionRevokedAll counts whole-account revocations.
	MetricSessionRevokedAll
	// MetricValidateLatency is the ValidateSession latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's in-process counter set. All methods are safe
// for concurrent use and are no-ops on a nil or disabled receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter, for
// exporters and tests.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample. Only the validate histogram exists.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
