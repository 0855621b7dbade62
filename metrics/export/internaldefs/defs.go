package internaldefs

import (
	portalauth "github.com/solstream/portalauth"
)

// CounterDef ties one engine counter to its exported name.
type CounterDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// HistogramDef ties one engine histogram to its exported name.
type HistogramDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// CounterDefs is the full exported counter set, in a fixed order so the
// text exposition output is deterministic.
var CounterDefs = []CounterDef{
	{ID: portalauth.MetricBindingRequested, Name: "portalauth_binding_requested_total", Help: "Proof-of-control challenges issued."},
	{ID: portalauth.MetricBindingVerified, Name: "portalauth_binding_verified_total", Help: "Proof-of-control challenges verified."},
	{ID: portalauth.MetricBindingFailed, Name: "portalauth_binding_failed_total", Help: "Failed proof-of-control attempts."},
	{ID: portalauth.MetricBindingExhausted, Name: "portalauth_binding_exhausted_total", Help: "Challenges invalidated by the attempt cap."},
	{ID: portalauth.MetricOAuthStarted, Name: "portalauth_oauth_started_total", Help: "Provider authorization redirects issued."},
	{ID: portalauth.MetricOAuthLoginSuccess, Name: "portalauth_oauth_login_success_total", Help: "Completed provider logins."},
	{ID: portalauth.MetricOAuthLoginFailure, Name: "portalauth_oauth_login_failure_total", Help: "Failed provider logins."},
	{ID: portalauth.MetricPasswordLoginSuccess, Name: "portalauth_password_login_success_total", Help: "Completed password logins."},
	{ID: portalauth.MetricPasswordLoginFailure, Name: "portalauth_password_login_failure_total", Help: "Rejected password logins."},
	{ID: portalauth.MetricAccountProvisioned, Name: "portalauth_account_provisioned_total", Help: "Accounts auto-created on first login."},
	{ID: portalauth.MetricMFARequired, Name: "portalauth_mfa_required_total", Help: "Logins parked behind a second factor."},
	{ID: portalauth.MetricMFASuccess, Name: "portalauth_mfa_success_total", Help: "Accepted second-factor codes."},
	{ID: portalauth.MetricMFAFailure, Name: "portalauth_mfa_failure_total", Help: "Rejected second-factor codes."},
	{ID: portalauth.MetricMFAReplayAttempt, Name: "portalauth_mfa_replay_attempt_total", Help: "TOTP codes reused within a time step."},
	{ID: portalauth.MetricBackupCodeUsed, Name: "portalauth_backup_code_used_total", Help: "Backup codes redeemed."},
	{ID: portalauth.MetricBackupCodeFailed, Name: "portalauth_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: portalauth.MetricBackupCodeRegenerated, Name: "portalauth_backup_code_regenerated_total", Help: "Backup code set rotations."},
	{ID: portalauth.MetricRateLimitHit, Name: "portalauth_rate_limit_hit_total", Help: "Requests refused by a rate limiter."},
	{ID: portalauth.MetricSessionIssued, Name: "portalauth_session_issued_total", Help: "Session tokens signed."},
	{ID: portalauth.MetricSessionRevoked, Name: "portalauth_session_revoked_total", Help: "Single-session revocations."},
	{ID: portalauth.MetricSessionRevokedAll, Name: "portalauth_session_revoked_all_total", Help: "Whole-account session revocations."},
}

// HistogramDefs is the exported histogram set.
var HistogramDefs = []HistogramDef{
	{ID: portalauth.MetricValidateLatency, Name: "portalauth_validate_latency_seconds", Help: "ValidateSession latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's fixed buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with metric-name-safe
// spellings for per-bucket gauge names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// the exposition formats require.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
