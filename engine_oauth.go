package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/solstream/portalauth/internal"
	"github.com/solstream/portalauth/provider"
)

// BeginAuth starts a provider login. It mints a single-use state value,
// records it server-side for the configured TTL, and returns the fully
// formed authorization URL to redirect the user to.
func (e *Engine) BeginAuth(ctx context.Context, providerName, redirectURI string) (string, error) {
	if e == nil || e.oauthState == nil {
		return "", ErrEngineNotReady
	}

	p, err := e.provider(providerName)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(redirectURI) == "" {
		return "", fmt.Errorf("%w: empty redirect URI", ErrInvalidInput)
	}

	nonce, err := internal.NewStateNonce()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	state := encodeState(p.Name(), nonce)

	if err := e.oauthState.Save(ctx, nonce, p.Name(), redirectURI, e.config.OAuth.StateTTL); err != nil {
		return "", ErrUnavailable
	}

	e.metricInc(MetricOAuthStarted)
	e.emitAudit(ctx, auditEventOAuthStarted, true, "", "", nil, func() map[string]string {
		return map[string]string{"provider": p.Name()}
	})

	return p.AuthorizeURL(state, redirectURI), nil
}

// CompleteAuth finishes the provider callback. The state is consumed
// atomically, so a replayed callback fails with [ErrStateInvalid]. The
// code-for-token exchange is attempted exactly once: authorization codes
// are single-use at the provider, and a retry after an ambiguous failure
// could mask a code interception.
//
// The outcome is exactly one of: a session token; an MFA challenge id to
// feed [Engine.ConfirmLoginMFA]; or Pending for a freshly provisioned
// account awaiting approval.
func (e *Engine) CompleteAuth(ctx context.Context, state, code string) (AuthOutcome, error) {
	if e == nil || e.oauthState == nil {
		return AuthOutcome{}, ErrEngineNotReady
	}
	if strings.TrimSpace(code) == "" {
		return AuthOutcome{}, fmt.Errorf("%w: empty authorization code", ErrInvalidInput)
	}

	providerName, nonce, err := decodeState(state)
	if err != nil {
		return AuthOutcome{}, ErrStateInvalid
	}

	storedProvider, redirectURI, err := e.oauthState.Consume(ctx, nonce)
	if err != nil {
		if errors.Is(err, errStateNotFound) {
			e.emitAudit(ctx, auditEventOAuthFailed, false, "", "", ErrStateInvalid, nil)
			return AuthOutcome{}, ErrStateInvalid
		}
		return AuthOutcome{}, ErrUnavailable
	}
	if storedProvider != providerName {
		e.emitAudit(ctx, auditEventOAuthFailed, false, "", "", ErrStateInvalid, nil)
		return AuthOutcome{}, ErrStateInvalid
	}

	p, err := e.provider(providerName)
	if err != nil {
		return AuthOutcome{}, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, e.config.OAuth.ExchangeTimeout)
	defer cancel()

	accessToken, err := p.Exchange(exchangeCtx, code, redirectURI)
	if err != nil {
		mapped := mapProviderError(err)
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthFailed, false, "", "", mapped, func() map[string]string {
			return map[string]string{"provider": p.Name()}
		})
		return AuthOutcome{}, mapped
	}

	identity, err := p.Identity(exchangeCtx, accessToken)
	if err != nil {
		mapped := mapProviderError(err)
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthFailed, false, "", "", mapped, func() map[string]string {
			return map[string]string{"provider": p.Name()}
		})
		return AuthOutcome{}, mapped
	}
	if identity.Email == "" {
		e.metricInc(MetricOAuthLoginFailure)
		return AuthOutcome{}, ErrProviderNoEmail
	}

	account, _, err := e.resolveExternalIdentity(ctx, ExternalIdentity{
		Provider:    p.Name(),
		SubjectID:   identity.SubjectID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
	})
	if err != nil {
		e.metricInc(MetricOAuthLoginFailure)
		return AuthOutcome{}, err
	}

	outcome, err := e.firstFactorOutcome(ctx, account)
	if err != nil {
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthFailed, false, account.ID, "", err, func() map[string]string {
			return map[string]string{"provider": p.Name()}
		})
		return AuthOutcome{}, err
	}

	e.metricInc(MetricOAuthLoginSuccess)
	e.emitAudit(ctx, auditEventOAuthLogin, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"provider": p.Name()}
	})
	return outcome, nil
}

// firstFactorOutcome turns a resolved account into the post-first-factor
// outcome shared by the OAuth and password paths.
func (e *Engine) firstFactorOutcome(ctx context.Context, account Account) (AuthOutcome, error) {
	switch account.Status {
	case AccountActive:
	case AccountPendingApproval:
		return AuthOutcome{AccountID: account.ID, Pending: true}, nil
	default:
		return AuthOutcome{}, ErrAccountSuspended
	}

	if account.MFAEnabled {
		id, err := internal.NewChallengeID()
		if err != nil {
			return AuthOutcome{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		record := &mfaLoginChallenge{
			AccountID: account.ID,
			ExpiresAt: time.Now().Add(e.config.MFA.LoginChallengeTTL).Unix(),
		}
		if err := e.mfaLoginStore.Save(ctx, id.String(), record, e.config.MFA.LoginChallengeTTL); err != nil {
			return AuthOutcome{}, ErrUnavailable
		}

		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, account.ID, "", nil, nil)
		return AuthOutcome{AccountID: account.ID, MFARequired: true, MFAChallenge: id.String()}, nil
	}

	token, _, err := e.issueSessionFor(ctx, account, false)
	if err != nil {
		return AuthOutcome{}, err
	}
	return AuthOutcome{AccountID: account.ID, SessionToken: token}, nil
}

// ConfirmLoginMFA completes a parked login with a TOTP code. The challenge
// is single-use: it is consumed on success and after the configured number
// of failures.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, challengeID, code string) (AuthOutcome, error) {
	return e.confirmLoginSecondFactor(ctx, challengeID, code, false)
}

// ConfirmLoginBackupCode completes a parked login by redeeming a backup
// code instead of a TOTP code.
func (e *Engine) ConfirmLoginBackupCode(ctx context.Context, challengeID, code string) (AuthOutcome, error) {
	return e.confirmLoginSecondFactor(ctx, challengeID, code, true)
}

func (e *Engine) confirmLoginSecondFactor(ctx context.Context, challengeID, code string, backup bool) (AuthOutcome, error) {
	if e == nil || e.mfaLoginStore == nil {
		return AuthOutcome{}, ErrEngineNotReady
	}
	if challengeID == "" || strings.TrimSpace(code) == "" {
		return AuthOutcome{}, fmt.Errorf("%w: empty challenge or code", ErrInvalidInput)
	}

	record, err := e.mfaLoginStore.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, errMFALoginNotFound):
			return AuthOutcome{}, ErrNotFound
		case errors.Is(err, errMFALoginExpired):
			return AuthOutcome{}, ErrExpired
		default:
			return AuthOutcome{}, ErrUnavailable
		}
	}

	var verifyErr error
	if backup {
		verifyErr = e.redeemBackupCode(ctx, record.AccountID, code)
	} else {
		verifyErr = e.VerifyMFA(ctx, record.AccountID, code)
	}
	if verifyErr != nil {
		if errors.Is(verifyErr, ErrMFACodeInvalid) || errors.Is(verifyErr, ErrBackupCodeInvalid) {
			exceeded, recErr := e.mfaLoginStore.RecordFailure(ctx, challengeID, e.config.MFA.LoginChallengeAttempts)
			if recErr != nil && !errors.Is(recErr, errMFALoginExpired) && !errors.Is(recErr, errMFALoginNotFound) {
				return AuthOutcome{}, ErrUnavailable
			}
			if exceeded {
				e.metricInc(MetricMFAFailure)
				e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, record.AccountID, "", ErrAttemptsExhausted, nil)
				return AuthOutcome{}, ErrAttemptsExhausted
			}
		}
		return AuthOutcome{}, verifyErr
	}

	// Success consumes the challenge; a concurrent confirmation that
	// lost the race sees the challenge gone and fails.
	present, err := e.mfaLoginStore.Delete(ctx, challengeID)
	if err != nil {
		return AuthOutcome{}, ErrUnavailable
	}
	if !present {
		return AuthOutcome{}, ErrNotFound
	}

	account, err := e.directory.AccountByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthOutcome{}, ErrAccountNotFound
		}
		return AuthOutcome{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, _, err := e.issueSessionFor(ctx, account, false)
	if err != nil {
		return AuthOutcome{}, err
	}
	return AuthOutcome{AccountID: account.ID, SessionToken: token}, nil
}

// Providers returns the registered provider names, for callers that
// render a login chooser.
func (e *Engine) Providers() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.providers))
	for name := range e.providers {
		names = append(names, name)
	}
	return names
}

func (e *Engine) provider(name string) (provider.Provider, error) {
	p, ok := e.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrProviderMisconfigured
	}
	return p, nil
}

func mapProviderError(err error) error {
	switch {
	case errors.Is(err, provider.ErrMisconfigured):
		return ErrProviderMisconfigured
	case errors.Is(err, provider.ErrNoEmail):
		return ErrProviderNoEmail
	default:
		return fmt.Errorf("%w: %v", ErrProviderExchangeFailed, err)
	}
}
