package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// oauthSubjectValue is the stored form of a provider subject identifier.
func oauthSubjectValue(providerName, subjectID string) string {
	return strings.ToLower(providerName) + ":" + subjectID
}

// resolveExternalIdentity maps a completed provider login onto a portal
// account. Resolution is a three-step chain and the first hit wins:
//
//  1. a verified oauth-subject identifier for (provider, subject);
//  2. the account whose primary email equals the provider email, in which
//     case the subject is linked for future logins;
//  3. nothing, in which case a pending account is provisioned.
//
// The provisioned return is true only in the third case. Provisioned
// accounts start as pending customer accounts with no memberships, so
// they resolve to an empty scope until an administrator approves them.
func (e *Engine) resolveExternalIdentity(ctx context.Context, ext ExternalIdentity) (Account, bool, error) {
	subject := oauthSubjectValue(ext.Provider, ext.SubjectID)

	ident, err := e.directory.VerifiedIdentifier(ctx, IdentifierOAuthSubject, subject)
	if err == nil {
		account, err := e.directory.AccountByID(ctx, ident.AccountID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Identifier points at a vanished account; treat as a
				// backend fault rather than silently re-provisioning.
				return Account{}, false, fmt.Errorf("%w: identifier without account", ErrUnavailable)
			}
			return Account{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return account, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	email := strings.ToLower(strings.TrimSpace(ext.Email))
	account, err := e.directory.AccountByEmail(ctx, email)
	if err == nil {
		if linkErr := e.linkSubject(ctx, account.ID, subject); linkErr != nil {
			return Account{}, false, linkErr
		}
		return account, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	created, err := e.directory.CreateAccount(ctx, CreateAccountInput{
		Email:       email,
		DisplayName: ext.DisplayName,
		Kind:        KindCustomer,
		Status:      AccountPendingApproval,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Concurrent first login with the same email; retry the email
			// path once so both logins land on the same account.
			account, lookupErr := e.directory.AccountByEmail(ctx, email)
			if lookupErr != nil {
				return Account{}, false, fmt.Errorf("%w: %v", ErrUnavailable, lookupErr)
			}
			if linkErr := e.linkSubject(ctx, account.ID, subject); linkErr != nil {
				return Account{}, false, linkErr
			}
			return account, false, nil
		}
		return Account{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.linkSubject(ctx, created.ID, subject); err != nil {
		return Account{}, false, err
	}

	e.metricInc(MetricAccountProvisioned)
	e.emitAudit(ctx, auditEventAccountProvisioned, true, created.ID, "", nil, func() map[string]string {
		return map[string]string{"provider": ext.Provider}
	})

	return created, true, nil
}

func (e *Engine) linkSubject(ctx context.Context, accountID, subject string) error {
	err := e.directory.CreateVerifiedIdentifier(ctx, Identifier{
		Type:      IdentifierOAuthSubject,
		Value:     subject,
		AccountID: accountID,
		Status:    IdentifierVerified,
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
