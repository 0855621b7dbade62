package portalauth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProvisionMFA generates a fresh TOTP secret for the account and stores
// it unactivated. The returned secret and otpauth:// URI are shown to the
// user exactly once; MFA stays off until [Engine.ConfirmMFA] proves the
// authenticator was enrolled. Re-provisioning an account whose MFA is
// already active is rejected; disable first.
func (e *Engine) ProvisionMFA(ctx context.Context, accountID string) (MFAProvision, error) {
	if e == nil || e.totp == nil {
		return MFAProvision{}, ErrEngineNotReady
	}

	account, err := e.directory.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return MFAProvision{}, ErrAccountNotFound
		}
		return MFAProvision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	state, err := e.directory.MFAState(ctx, accountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return MFAProvision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if state.Enabled {
		return MFAProvision{}, ErrMFAAlreadyEnabled
	}

	secret, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return MFAProvision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := e.directory.StoreMFASecret(ctx, accountID, secret); err != nil {
		return MFAProvision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.emitAudit(ctx, auditEventMFAProvisioned, true, accountID, "", nil, nil)

	return MFAProvision{
		Secret: encoded,
		URI:    e.totp.ProvisioningURI(encoded, account.Email),
	}, nil
}

// ConfirmMFA activates MFA after the user proves enrollment with a first
// valid code. On success a fresh backup code set is generated and its
// plaintexts returned, the only time they are ever visible.
func (e *Engine) ConfirmMFA(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	state, err := e.directory.MFAState(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrMFANotConfigured
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if state.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if len(state.Secret) == 0 {
		return nil, ErrMFANotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(state.Secret, code, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, accountID, "", ErrMFACodeInvalid, nil)
		return nil, ErrMFACodeInvalid
	}

	if err := e.directory.ActivateMFA(ctx, accountID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := e.directory.AdvanceMFACounter(ctx, accountID, counter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	codes, err := e.storeFreshBackupCodes(ctx, accountID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFAEnabled, true, accountID, "", nil, nil)

	return codes, nil
}

// DisableMFA turns MFA off. A valid current TOTP code is required so a
// hijacked session cannot silently weaken the account. All backup codes
// are discarded and every live session is revoked.
func (e *Engine) DisableMFA(ctx context.Context, accountID, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	if err := e.VerifyMFA(ctx, accountID, code); err != nil {
		return err
	}

	if err := e.directory.DisableMFA(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := e.directory.ReplaceBackupCodes(ctx, accountID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := e.RevokeAccountSessions(ctx, accountID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventMFADisabled, true, accountID, "", nil, nil)
	return nil
}

// VerifyMFA checks a TOTP code for an MFA-enabled account. Drift of up to
// the configured skew is tolerated; an accepted code advances the replay
// counter so the same code cannot be accepted twice within its step.
func (e *Engine) VerifyMFA(ctx context.Context, accountID, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	if err := e.mfaLimiter.Check(ctx, accountID); err != nil {
		if errors.Is(err, errMFARateLimited) {
			e.emitRateLimit(ctx, "mfa_verify", accountID, nil)
			return ErrRateLimited
		}
		return ErrUnavailable
	}

	state, err := e.directory.MFAState(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrMFANotConfigured
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !state.Enabled || len(state.Secret) == 0 {
		return ErrMFANotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(state.Secret, code, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return e.mfaFailure(ctx, accountID)
	}

	if e.config.MFA.EnforceReplayProtection && counter <= state.LastUsedCounter {
		return e.mfaReplay(ctx, accountID)
	}

	advanced, err := e.directory.AdvanceMFACounter(ctx, accountID, counter)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if e.config.MFA.EnforceReplayProtection && !advanced {
		// A concurrent submission of the same step won the counter write.
		return e.mfaReplay(ctx, accountID)
	}
	if err := e.mfaLimiter.Reset(ctx, accountID); err != nil {
		return ErrUnavailable
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, accountID, "", nil, nil)
	return nil
}

// mfaReplay rejects a reused TOTP step without touching the account
// limiter.
func (e *Engine) mfaReplay(ctx context.Context, accountID string) error {
	e.metricInc(MetricMFAReplayAttempt)
	e.emitAudit(ctx, auditEventMFAFailure, false, accountID, "", ErrMFACodeInvalid, func() map[string]string {
		return map[string]string{"reason": "replay"}
	})
	return ErrMFACodeInvalid
}

func (e *Engine) mfaFailure(ctx context.Context, accountID string) error {
	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, accountID, "", ErrMFACodeInvalid, nil)

	if err := e.mfaLimiter.RecordFailure(ctx, accountID); err != nil && !errors.Is(err, errMFARateLimited) {
		return ErrUnavailable
	}
	return ErrMFACodeInvalid
}
