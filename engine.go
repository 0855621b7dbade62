package portalauth

import (
	"github.com/redis/go-redis/v9"
	"github.com/solstream/portalauth/jwt"
	"github.com/solstream/portalauth/password"
	"github.com/solstream/portalauth/provider"
	"github.com/solstream/portalauth/session"
)

// Engine is the authentication core. Build one through [Builder]; after
// Build it is immutable and safe for concurrent use. Every operation is a
// method on Engine; there is no package-level state.
type Engine struct {
	config          Config
	directory       Directory
	redis           *redis.Client
	providers       map[string]provider.Provider
	bindingStore    *bindingChallengeStore
	bindingLimiter  *bindingLimiter
	mfaLimiter      *mfaLimiter
	backupLimiter   *backupLimiter
	passwordLimiter *passwordLimiter
	oauthState      *oauthStateStore
	mfaLoginStore   *mfaLoginStore
	sessionStore    *session.Store
	jwtManager      *jwt.Manager
	passwordHash    *password.Hasher
	totp            *totpCodec
	audit           *auditDispatcher
	metrics         *Metrics
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded under
// backpressure since the engine was built.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
