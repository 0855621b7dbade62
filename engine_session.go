package portalauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solstream/portalauth/jwt"
)

// IssueSession resolves the account's portal scope and signs a session
// token embedding it. With aggregate set, a company account receives the
// consolidated read-only view over every customer of its organizations.
//
// Pending and suspended accounts cannot hold sessions; their scope is
// empty and issuance is refused.
func (e *Engine) IssueSession(ctx context.Context, accountID string, aggregate bool) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}

	account, err := e.directory.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, _, err := e.issueSessionFor(ctx, account, aggregate)
	return token, err
}

// issueSessionFor mints and tracks a session for an already-loaded
// account. Shared by IssueSession and the login flows.
func (e *Engine) issueSessionFor(ctx context.Context, account Account, aggregate bool) (string, string, error) {
	switch account.Status {
	case AccountActive:
	case AccountPendingApproval:
		return "", "", ErrAccountPending
	default:
		return "", "", ErrAccountSuspended
	}

	if aggregate && account.Kind != KindCompany {
		return "", "", fmt.Errorf("%w: aggregate view is company-only", ErrInvalidInput)
	}

	scope, err := e.ResolveScope(ctx, account.ID, aggregate)
	if err != nil {
		return "", "", err
	}
	if aggregate && scope.IsEmpty() {
		return "", "", fmt.Errorf("%w: aggregate view requires an organization membership", ErrInvalidInput)
	}

	sessionID := uuid.NewString()
	token, err := e.jwtManager.CreateSession(account.ID, sessionID, account.Role, scopeClaim(scope))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if e.config.Session.CheckRevocation {
		if err := e.sessionStore.Track(ctx, account.ID, sessionID); err != nil {
			return "", "", ErrUnavailable
		}
	}

	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, account.ID, sessionID, nil, func() map[string]string {
		return map[string]string{"aggregate": fmt.Sprintf("%t", scope.Aggregate)}
	})

	return token, sessionID, nil
}

// ValidateSession verifies the token signature and expiry, checks the
// revocation store, and returns the bearer with its embedded scope.
// Failures map to exactly one of [ErrTokenExpired], [ErrTokenMalformed],
// [ErrTokenSignatureInvalid], or [ErrSessionRevoked].
func (e *Engine) ValidateSession(ctx context.Context, token string) (Subject, PortalScope, error) {
	if e == nil || e.jwtManager == nil {
		return Subject{}, PortalScope{}, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	claims, err := e.jwtManager.ParseSession(token)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpired):
			return Subject{}, PortalScope{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return Subject{}, PortalScope{}, ErrTokenSignatureInvalid
		default:
			return Subject{}, PortalScope{}, ErrTokenMalformed
		}
	}

	if e.config.Session.CheckRevocation {
		revoked, err := e.sessionStore.IsRevoked(ctx, claims.SessionID)
		if err != nil {
			return Subject{}, PortalScope{}, ErrUnavailable
		}
		if revoked {
			return Subject{}, PortalScope{}, ErrSessionRevoked
		}
	}

	subject := Subject{
		AccountID: claims.AccountID,
		SessionID: claims.SessionID,
	}
	if claims.IssuedAt != nil {
		subject.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		subject.ExpiresAt = claims.ExpiresAt.Time
	}

	return subject, scopeFromClaim(claims.Scope), nil
}

// RevokeSession tombstones the session carried by the token for the
// remainder of its life. The token must still parse; revoking an already
// expired token is a no-op success.
func (e *Engine) RevokeSession(ctx context.Context, token string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseSession(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil
		}
		return ErrTokenMalformed
	}

	remaining := e.config.Token.TTL
	if claims.ExpiresAt != nil {
		remaining = time.Until(claims.ExpiresAt.Time)
	}
	if err := e.sessionStore.Revoke(ctx, claims.SessionID, remaining); err != nil {
		return ErrUnavailable
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, claims.AccountID, claims.SessionID, nil, nil)
	return nil
}

// RevokeAccountSessions tombstones every tracked session of the account.
// Used on credential rotation and administrative suspension.
func (e *Engine) RevokeAccountSessions(ctx context.Context, accountID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if accountID == "" {
		return fmt.Errorf("%w: empty account id", ErrInvalidInput)
	}

	if err := e.sessionStore.RevokeAccount(ctx, accountID); err != nil {
		return ErrUnavailable
	}

	e.metricInc(MetricSessionRevokedAll)
	e.emitAudit(ctx, auditEventSessionRevokedAccount, true, accountID, "", nil, nil)
	return nil
}

func scopeClaim(s PortalScope) jwt.ScopeClaim {
	kind := "company"
	if s.Kind == KindCustomer {
		kind = "customer"
	}
	return jwt.ScopeClaim{
		Kind:          kind,
		Organizations: s.Organizations,
		Customers:     s.Customers,
		Projects:      s.Projects,
		Aggregate:     s.Aggregate,
	}
}

func scopeFromClaim(c jwt.ScopeClaim) PortalScope {
	kind := KindCompany
	if c.Kind == "customer" {
		kind = KindCustomer
	}
	return PortalScope{
		Kind:          kind,
		Organizations: c.Organizations,
		Customers:     c.Customers,
		Projects:      c.Projects,
		Aggregate:     c.Aggregate,
	}
}
