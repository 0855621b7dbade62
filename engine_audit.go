package portalauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventBindingRequested      = "binding_requested"
	auditEventBindingVerified       = "binding_verified"
	auditEventBindingFailed         = "binding_failed"
	auditEventBindingExhausted      = "binding_attempts_exhausted"
	auditEventBindingRateLimited    = "binding_rate_limited"
	auditEventIdentifierRevoked     = "identifier_revoked"
	auditEventOAuthStarted          = "oauth_started"
	auditEventOAuthLogin            = "oauth_login"
	auditEventOAuthFailed           = "oauth_failed"
	auditEventPasswordLogin         = "password_login"
	auditEventPasswordLoginFailed   = "password_login_failed"
	auditEventAccountProvisioned    = "account_provisioned"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAAttemptsExceeded   = "mfa_attempts_exceeded"
	auditEventMFAProvisioned        = "mfa_provisioned"
	auditEventMFAEnabled            = "mfa_enabled"
	auditEventMFADisabled           = "mfa_disabled"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventSessionIssued         = "session_issued"
	auditEventSessionRevoked        = "session_revoked"
	auditEventSessionRevokedAccount = "session_revoked_all"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// AuditErrorCode is the normalized failure label carried on audit events.
type AuditErrorCode string

const (
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrAttemptsExhausted  AuditErrorCode = "attempts_exhausted"
	auditErrAccountSuspended   AuditErrorCode = "account_suspended"
	auditErrAccountPending     AuditErrorCode = "account_pending"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrProviderExchange   AuditErrorCode = "provider_exchange_failed"
	auditErrProviderNoEmail    AuditErrorCode = "provider_no_email"
	auditErrProviderConfig     AuditErrorCode = "provider_misconfigured"
	auditErrStateInvalid       AuditErrorCode = "state_invalid"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrSessionRevoked     AuditErrorCode = "session_revoked"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	accountID string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, accountID, "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAccountNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrConflict
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrAttemptsExhausted):
		return auditErrAttemptsExhausted
	case errors.Is(err, ErrAccountSuspended):
		return auditErrAccountSuspended
	case errors.Is(err, ErrAccountPending):
		return auditErrAccountPending
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrMFACodeInvalid),
		errors.Is(err, ErrMFANotConfigured),
		errors.Is(err, ErrMFARequired),
		errors.Is(err, ErrBackupCodeInvalid):
		return auditErrMFAInvalid
	case errors.Is(err, ErrProviderExchangeFailed):
		return auditErrProviderExchange
	case errors.Is(err, ErrProviderNoEmail):
		return auditErrProviderNoEmail
	case errors.Is(err, ErrProviderMisconfigured):
		return auditErrProviderConfig
	case errors.Is(err, ErrStateInvalid):
		return auditErrStateInvalid
	case errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenSignatureInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
