package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/solstream/portalauth/internal"
)

// RequestBinding opens a proof-of-control challenge binding an out-of-band
// identifier (email or messaging phone number) to an existing account.
// The returned code must be delivered over the channel being proven and
// never echoed to the requesting client.
//
// Issuance is idempotent inside the validity window: repeating the request
// for the same (account, value) pair returns the active challenge with its
// original code, so a flaky delivery path cannot mint a guesser extra
// codes. A value already verified for a different account is rejected with
// [ErrConflict] before a challenge is created; re-proving a value the
// account already holds opens a normal challenge.
func (e *Engine) RequestBinding(
	ctx context.Context,
	accountID string,
	typ IdentifierType,
	value string,
) (BindingChallengeInfo, error) {
	if e == nil || e.bindingStore == nil {
		return BindingChallengeInfo{}, ErrEngineNotReady
	}

	value, err := normalizeIdentifier(typ, value)
	if err != nil {
		return BindingChallengeInfo{}, err
	}
	if accountID == "" {
		return BindingChallengeInfo{}, fmt.Errorf("%w: empty account id", ErrInvalidInput)
	}

	account, err := e.directory.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return BindingChallengeInfo{}, ErrAccountNotFound
		}
		return BindingChallengeInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if account.Status == AccountSuspended || account.Status == AccountDeactivated {
		return BindingChallengeInfo{}, ErrAccountSuspended
	}

	existing, err := e.directory.VerifiedIdentifier(ctx, typ, value)
	if err == nil && existing.AccountID != accountID {
		e.emitAudit(ctx, auditEventBindingRequested, false, accountID, "", ErrConflict, func() map[string]string {
			return map[string]string{"channel": string(typ)}
		})
		return BindingChallengeInfo{}, ErrConflict
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return BindingChallengeInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.bindingLimiter.Allow(ctx, accountID, value); err != nil {
		if errors.Is(err, errBindingRateLimited) {
			e.emitRateLimit(ctx, "binding_request", accountID, func() map[string]string {
				return map[string]string{"channel": string(typ)}
			})
			e.emitAudit(ctx, auditEventBindingRateLimited, false, accountID, "", ErrRateLimited, nil)
			return BindingChallengeInfo{}, ErrRateLimited
		}
		return BindingChallengeInfo{}, err
	}

	id, err := internal.NewChallengeID()
	if err != nil {
		return BindingChallengeInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	code, err := internal.NewOTP(e.config.Binding.CodeDigits)
	if err != nil {
		return BindingChallengeInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record := &bindingChallenge{
		AccountID: accountID,
		IDType:    typ,
		Value:     value,
		Code:      code,
		ExpiresAt: time.Now().Add(e.config.Binding.ChallengeTTL).Unix(),
		Status:    bindingStatusIssued,
	}

	challengeID, stored, err := e.bindingStore.Issue(ctx, id.String(), record, e.config.Binding.ChallengeTTL)
	if err != nil {
		return BindingChallengeInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricBindingRequested)
	e.emitAudit(ctx, auditEventBindingRequested, true, accountID, "", nil, func() map[string]string {
		return map[string]string{
			"channel":   string(typ),
			"challenge": challengeID,
		}
	})

	return BindingChallengeInfo{
		ChallengeID: challengeID,
		Code:        stored.Code,
		ExpiresAt:   time.Unix(stored.ExpiresAt, 0),
	}, nil
}

// VerifyBinding consumes a proof-of-control challenge. The code match,
// attempt accounting, and state transition happen atomically; of two
// concurrent submissions of the correct code, exactly one succeeds. The
// challenge is only retired once the identifier write is durable; if the
// directory is unavailable at that moment the challenge is restored and
// the same code can be retried.
//
// A wrong code returns [ErrInvalidInput] and burns one attempt. Once the
// attempt cap is reached the challenge answers [ErrAttemptsExhausted] for
// the rest of its life, including to a late correct code; after expiry it
// answers [ErrExpired], and once fully gone [ErrNotFound].
func (e *Engine) VerifyBinding(ctx context.Context, challengeID, code string) (Identifier, error) {
	if e == nil || e.bindingStore == nil {
		return Identifier{}, ErrEngineNotReady
	}
	if challengeID == "" || strings.TrimSpace(code) == "" {
		return Identifier{}, fmt.Errorf("%w: empty challenge or code", ErrInvalidInput)
	}

	record, err := e.bindingStore.Consume(ctx, challengeID, strings.TrimSpace(code), e.config.Binding.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, errBindingNotFound):
			return Identifier{}, ErrNotFound
		case errors.Is(err, errBindingExpired):
			e.emitAudit(ctx, auditEventBindingFailed, false, "", "", ErrExpired, nil)
			return Identifier{}, ErrExpired
		case errors.Is(err, errBindingAttemptsExceeded):
			e.metricInc(MetricBindingExhausted)
			e.emitAudit(ctx, auditEventBindingExhausted, false, "", "", ErrAttemptsExhausted, nil)
			return Identifier{}, ErrAttemptsExhausted
		case errors.Is(err, errBindingCodeMismatch):
			e.metricInc(MetricBindingFailed)
			e.emitAudit(ctx, auditEventBindingFailed, false, "", "", ErrInvalidInput, nil)
			return Identifier{}, fmt.Errorf("%w: code mismatch", ErrInvalidInput)
		default:
			return Identifier{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	ident := Identifier{
		Type:       record.IDType,
		Value:      record.Value,
		AccountID:  record.AccountID,
		Status:     IdentifierVerified,
		VerifiedAt: time.Now().UTC(),
		VerifiedBy: challengeID,
	}

	if err := e.directory.CreateVerifiedIdentifier(ctx, ident); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race against another verification of the same value.
			// Nothing to retry; retire the challenge.
			_ = e.bindingStore.Finalize(ctx, challengeID, record)
			return Identifier{}, ErrConflict
		}
		// Put the challenge back so the same code can be retried once the
		// directory recovers. If the release itself fails the challenge
		// stays pending until its TTL.
		_ = e.bindingStore.Release(ctx, challengeID, record)
		return Identifier{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Commit point. The identifier is durable; a failed delete only
	// leaves a pending record to lapse with its TTL.
	_ = e.bindingStore.Finalize(ctx, challengeID, record)

	e.metricInc(MetricBindingVerified)
	e.emitAudit(ctx, auditEventBindingVerified, true, record.AccountID, "", nil, func() map[string]string {
		return map[string]string{"channel": string(record.IDType)}
	})

	return ident, nil
}

// RevokeIdentifier releases a verified identifier so its value can be
// claimed again through a fresh challenge. Idempotent over missing rows.
func (e *Engine) RevokeIdentifier(ctx context.Context, typ IdentifierType, value string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	value, err := normalizeIdentifier(typ, value)
	if err != nil {
		return err
	}

	if err := e.directory.RevokeIdentifier(ctx, typ, value); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.emitAudit(ctx, auditEventIdentifierRevoked, true, "", "", nil, func() map[string]string {
		return map[string]string{"channel": string(typ)}
	})
	return nil
}

// normalizeIdentifier canonicalizes a claimed identifier value. Emails are
// lowercased; phone numbers must already be in E.164 form.
func normalizeIdentifier(typ IdentifierType, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty identifier value", ErrInvalidInput)
	}

	switch typ {
	case IdentifierEmail:
		value = strings.ToLower(value)
		at := strings.IndexByte(value, '@')
		if at <= 0 || at == len(value)-1 || strings.ContainsAny(value, " \t") {
			return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
		}
	case IdentifierPhone:
		if len(value) < 8 || len(value) > 16 || value[0] != '+' || !isDigitString(value[1:]) {
			return "", fmt.Errorf("%w: phone must be E.164", ErrInvalidInput)
		}
	case IdentifierOAuthSubject:
		if !strings.Contains(value, ":") {
			return "", fmt.Errorf("%w: oauth subject must be provider:subject", ErrInvalidInput)
		}
	default:
		return "", fmt.Errorf("%w: unknown identifier type", ErrInvalidInput)
	}

	return value, nil
}
