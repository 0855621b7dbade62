package portalauth

import "errors"

// Boundary error taxonomy. Every Engine operation returns one of these
// (possibly wrapped); callers branch with errors.Is. ErrUnavailable is the
// only non-recoverable kind: it means the backing store could not durably
// record the outcome and the operation was aborted without partial state.
var (
	// ErrInvalidInput reports a malformed code, identifier, or argument,
	// rejected before any state mutation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound reports that no matching challenge, account, or
	// identifier exists.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports an identifier already verified against a
	// different account.
	ErrConflict = errors.New("identifier already bound to another account")
	// ErrRateLimited reports that the per-key attempt window is exhausted;
	// the caller should surface a retry-after hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrExpired reports a challenge or exchange state past its deadline.
	ErrExpired = errors.New("expired")
	// ErrAttemptsExhausted reports a challenge burned by consecutive
	// mismatches. Distinct from ErrExpired so clients can prompt
	// "request a new code" rather than "wait".
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrUnavailable reports that the persistence or redis backend could
	// not be reached; no state was changed.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrAccountNotFound reports an unknown account id or email.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountSuspended reports a suspended or deactivated account.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountPending reports an auto-provisioned account awaiting
	// administrator approval. Pending accounts carry an empty scope.
	ErrAccountPending = errors.New("account pending approval")
	// ErrInvalidCredentials reports a failed password check.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMFANotConfigured reports an MFA operation against an account
	// with no provisioned secret.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrMFAAlreadyEnabled rejects re-provisioning while MFA is active.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFARequired reports that a login cannot complete without a
	// second factor.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFACodeInvalid reports a TOTP code that failed verification.
	ErrMFACodeInvalid = errors.New("invalid mfa code")
	// ErrBackupCodeInvalid reports a backup code with no matching unused
	// hash.
	ErrBackupCodeInvalid = errors.New("invalid backup code")

	// ErrProviderExchangeFailed reports that the provider token endpoint
	// rejected the authorization code.
	ErrProviderExchangeFailed = errors.New("provider code exchange failed")
	// ErrProviderNoEmail reports that no email could be recovered from the
	// provider, including via the secondary email endpoint.
	ErrProviderNoEmail = errors.New("provider returned no email")
	// ErrProviderMisconfigured reports absent client credentials or an
	// unknown provider name.
	ErrProviderMisconfigured = errors.New("provider misconfigured")
	// ErrStateInvalid reports an OAuth state nonce that is unknown,
	// malformed, already used, or bound to a different provider.
	ErrStateInvalid = errors.New("oauth state invalid")

	// ErrTokenExpired reports a session token past its expiry.
	ErrTokenExpired = errors.New("session token expired")
	// ErrTokenMalformed reports a session token that failed to parse.
	ErrTokenMalformed = errors.New("session token malformed")
	// ErrTokenSignatureInvalid reports a session token whose signature
	// did not verify.
	ErrTokenSignatureInvalid = errors.New("session token signature invalid")
	// ErrSessionRevoked reports a session invalidated through the
	// revocation hook.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrEngineNotReady reports use of an Engine that was not built
	// through Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)
