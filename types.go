package portalauth

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of a portal account. Accounts are
// never deleted, only deactivated.
type AccountStatus uint8

const (
	// AccountActive marks an approved account that may authenticate.
	AccountActive AccountStatus = iota
	// AccountPendingApproval marks an auto-provisioned account that has
	// not been assigned to an organization or customer yet. Pending
	// accounts always resolve to an empty scope.
	AccountPendingApproval
	// AccountSuspended marks an account blocked by an administrator.
	AccountSuspended
	// AccountDeactivated marks a permanently retired account.
	AccountDeactivated
)

// AccountKind distinguishes internal staff from external customer users.
type AccountKind uint8

const (
	// KindCompany marks internal staff of an organization. Company
	// accounts may hold the consolidated all-customers view.
	KindCompany AccountKind = iota
	// KindCustomer marks an external customer user, always scoped to
	// exactly one customer.
	KindCustomer
)

// IdentifierType is the channel class of an identifier claim.
type IdentifierType string

const (
	// IdentifierEmail is an email address.
	IdentifierEmail IdentifierType = "email"
	// IdentifierPhone is a messaging phone number in E.164 form.
	IdentifierPhone IdentifierType = "phone"
	// IdentifierOAuthSubject is a third-party subject id, stored as
	// "<provider>:<subject>".
	IdentifierOAuthSubject IdentifierType = "oauth"
)

// IdentifierStatus is the verification state of an identifier claim.
type IdentifierStatus uint8

const (
	// IdentifierPending marks a claimed but unverified identifier.
	IdentifierPending IdentifierStatus = iota
	// IdentifierVerified marks a proven identifier. At most one verified
	// identifier exists per (type, value).
	IdentifierVerified
	// IdentifierRevoked marks a released identifier whose value may be
	// re-claimed.
	IdentifierRevoked
)

// Account is the durable account record returned by [Directory]. The MFA
// flag mirrors the MfaState sub-record so login paths avoid a second
// lookup when MFA is off.
type Account struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Kind         AccountKind
	Status       AccountStatus
	Role         string
	MFAEnabled   bool
}

// Identifier binds a typed value to an account.
type Identifier struct {
	Type       IdentifierType
	Value      string
	AccountID  string
	Status     IdentifierStatus
	VerifiedAt time.Time
	VerifiedBy string
}

// MfaState is the typed MFA sub-record of an account: the encrypted-at-rest
// secret, the enabled flag, and the last accepted time-step counter used
// for replay protection.
type MfaState struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// BackupCodeRecord stores the SHA-256 hash of a single unused backup code.
// The plaintext is never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// Membership links an account to an organization and, for customer
// accounts, to the single customer record it may act on.
type Membership struct {
	OrganizationID string
	CustomerID     string
	ProjectIDs     []string
}

// CreateAccountInput is the input for [Directory.CreateAccount].
type CreateAccountInput struct {
	Email       string
	DisplayName string
	Kind        AccountKind
	Status      AccountStatus
	Role        string
}

// Directory is the persistence boundary. The platform's relational store
// implements it; portalauth never issues queries of its own.
//
// Missing rows are reported with [ErrNotFound] (or an error wrapping it);
// any other error is treated as [ErrUnavailable] and aborts the operation.
// ConsumeBackupCode must be atomic per account: of two concurrent calls
// with the same hash, at most one may observe true. AdvanceMFACounter
// must likewise compare and set atomically, reporting false when the
// stored counter is already at or past the submitted value, so the same
// TOTP step can never be accepted twice.
type Directory interface {
	AccountByID(ctx context.Context, id string) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error)

	VerifiedIdentifier(ctx context.Context, typ IdentifierType, value string) (Identifier, error)
	CreateVerifiedIdentifier(ctx context.Context, ident Identifier) error
	RevokeIdentifier(ctx context.Context, typ IdentifierType, value string) error

	MFAState(ctx context.Context, accountID string) (MfaState, error)
	StoreMFASecret(ctx context.Context, accountID string, secret []byte) error
	ActivateMFA(ctx context.Context, accountID string) error
	DisableMFA(ctx context.Context, accountID string) error
	AdvanceMFACounter(ctx context.Context, accountID string, counter int64) (bool, error)
	BackupCodes(ctx context.Context, accountID string) ([]BackupCodeRecord, error)
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)

	Memberships(ctx context.Context, accountID string) ([]Membership, error)
	CustomersOfOrganization(ctx context.Context, orgID string) ([]string, error)
}

// ExternalIdentity is the normalized result of a completed OAuth exchange.
type ExternalIdentity struct {
	Provider    string
	SubjectID   string
	Email       string
	DisplayName string
}

// BindingChallengeInfo is returned by [Engine.RequestBinding]. Code is the
// one-time proof-of-control code; the caller relays it through the
// out-of-band channel and must not echo it to the requesting client.
type BindingChallengeInfo struct {
	ChallengeID string
	Code        string
	ExpiresAt   time.Time
}

// MFAProvision holds the base32 TOTP secret and otpauth:// URI returned by
// [Engine.ProvisionMFA].
type MFAProvision struct {
	Secret string
	URI    string
}

// AuthOutcome is returned by [Engine.CompleteAuth] and
// [Engine.PasswordLogin]. Exactly one of the three shapes holds:
// SessionToken set; MFARequired with a challenge id for
// [Engine.ConfirmLoginMFA]; or Pending for a freshly provisioned account
// awaiting administrator approval.
type AuthOutcome struct {
	AccountID    string
	SessionToken string
	MFARequired  bool
	MFAChallenge string
	Pending      bool
}

// Subject identifies the bearer of a validated session token.
type Subject struct {
	AccountID string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
