package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PasswordLogin authenticates the first factor with an email and
// password. Unknown emails, accounts without a password, and wrong
// passwords all answer [ErrInvalidCredentials] so the response does not
// disclose account existence; the per-email throttle counts them all the
// same way.
func (e *Engine) PasswordLogin(ctx context.Context, email, pass string) (AuthOutcome, error) {
	if e == nil || e.passwordHash == nil {
		return AuthOutcome{}, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || pass == "" {
		return AuthOutcome{}, fmt.Errorf("%w: empty email or password", ErrInvalidInput)
	}

	if err := e.passwordLimiter.Check(ctx, email); err != nil {
		if errors.Is(err, errPasswordRateLimited) {
			e.emitRateLimit(ctx, "password_login", "", nil)
			return AuthOutcome{}, ErrRateLimited
		}
		return AuthOutcome{}, ErrUnavailable
	}

	account, err := e.directory.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthOutcome{}, e.passwordFailure(ctx, email, "")
		}
		return AuthOutcome{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if account.PasswordHash == "" {
		return AuthOutcome{}, e.passwordFailure(ctx, email, account.ID)
	}

	ok, err := e.passwordHash.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		return AuthOutcome{}, e.passwordFailure(ctx, email, account.ID)
	}

	if err := e.passwordLimiter.Reset(ctx, email); err != nil {
		return AuthOutcome{}, ErrUnavailable
	}

	outcome, err := e.firstFactorOutcome(ctx, account)
	if err != nil {
		e.metricInc(MetricPasswordLoginFailure)
		e.emitAudit(ctx, auditEventPasswordLoginFailed, false, account.ID, "", err, nil)
		return AuthOutcome{}, err
	}

	e.metricInc(MetricPasswordLoginSuccess)
	e.emitAudit(ctx, auditEventPasswordLogin, true, account.ID, "", nil, nil)
	return outcome, nil
}

// HashPassword derives a storable hash for a new or changed password.
// Persisting it is the caller's concern; the engine never writes account
// rows.
func (e *Engine) HashPassword(password string) (string, error) {
	if e == nil || e.passwordHash == nil {
		return "", ErrEngineNotReady
	}
	hash, err := e.passwordHash.Hash(password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return hash, nil
}

func (e *Engine) passwordFailure(ctx context.Context, email, accountID string) error {
	e.metricInc(MetricPasswordLoginFailure)
	e.emitAudit(ctx, auditEventPasswordLoginFailed, false, accountID, "", ErrInvalidCredentials, nil)

	if err := e.passwordLimiter.RecordFailure(ctx, email); err != nil && !errors.Is(err, errPasswordRateLimited) {
		return ErrUnavailable
	}
	return ErrInvalidCredentials
}
