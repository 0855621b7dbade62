package portalauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// PortalScope is the computed set of organizations, customers, and
// projects a session may act on. It is derived at issue time and embedded
// in the session token; it is never persisted on its own.
//
// Aggregate marks the consolidated all-customers view available to company
// accounts. Aggregate scopes are semantically read-only: downstream
// authorization must reject mutating operations scoped to a single
// customer while the session is in aggregate mode.
type PortalScope struct {
	Kind          AccountKind
	Organizations []string
	Customers     []string
	Projects      []string
	Aggregate     bool
}

// IsEmpty reports whether the scope grants access to nothing. An empty
// scope must be treated identically to an unauthenticated session by every
// downstream check.
func (s PortalScope) IsEmpty() bool {
	return len(s.Organizations) == 0 && len(s.Customers) == 0 && len(s.Projects) == 0
}

// AllowsCustomer reports whether the scope covers the given customer.
func (s PortalScope) AllowsCustomer(customerID string) bool {
	for _, c := range s.Customers {
		if c == customerID {
			return true
		}
	}
	return false
}

// AllowsMutation reports whether a mutating operation scoped to a single
// customer is permitted. Aggregate sessions can see every customer but may
// change none of them.
func (s PortalScope) AllowsMutation(customerID string) bool {
	if s.Aggregate {
		return false
	}
	return s.AllowsCustomer(customerID)
}

// ResolveScope computes the effective PortalScope for an account.
//
// Company accounts receive every organization they are a member of; with
// aggregate enabled the customer set is widened to all customers of those
// organizations and the scope is marked aggregate. Customer accounts
// receive exactly their one linked customer. Pending, suspended, and
// deactivated accounts resolve to the empty scope without error so callers
// can treat them as unauthenticated rather than special-casing them.
func (e *Engine) ResolveScope(ctx context.Context, accountID string, aggregate bool) (PortalScope, error) {
	if e == nil || e.directory == nil {
		return PortalScope{}, ErrEngineNotReady
	}

	account, err := e.directory.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PortalScope{}, ErrAccountNotFound
		}
		return PortalScope{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if account.Status != AccountActive {
		return PortalScope{Kind: account.Kind}, nil
	}

	memberships, err := e.directory.Memberships(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PortalScope{Kind: account.Kind}, nil
		}
		return PortalScope{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(memberships) == 0 {
		return PortalScope{Kind: account.Kind}, nil
	}

	if account.Kind == KindCustomer {
		// A customer account is linked to exactly one customer; extra
		// memberships are a data fault and must not widen access.
		m := memberships[0]
		return PortalScope{
			Kind:          KindCustomer,
			Organizations: []string{m.OrganizationID},
			Customers:     []string{m.CustomerID},
			Projects:      append([]string(nil), m.ProjectIDs...),
		}, nil
	}

	scope := PortalScope{Kind: KindCompany, Aggregate: aggregate}
	orgSeen := map[string]bool{}
	customerSeen := map[string]bool{}
	projectSeen := map[string]bool{}
	for _, m := range memberships {
		if m.OrganizationID != "" && !orgSeen[m.OrganizationID] {
			orgSeen[m.OrganizationID] = true
			scope.Organizations = append(scope.Organizations, m.OrganizationID)
		}
		if m.CustomerID != "" && !customerSeen[m.CustomerID] {
			customerSeen[m.CustomerID] = true
			scope.Customers = append(scope.Customers, m.CustomerID)
		}
		for _, p := range m.ProjectIDs {
			if !projectSeen[p] {
				projectSeen[p] = true
				scope.Projects = append(scope.Projects, p)
			}
		}
	}

	if aggregate {
		for _, org := range scope.Organizations {
			customers, err := e.directory.CustomersOfOrganization(ctx, org)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return PortalScope{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			for _, c := range customers {
				if !customerSeen[c] {
					customerSeen[c] = true
					scope.Customers = append(scope.Customers, c)
				}
			}
		}
	}

	sort.Strings(scope.Organizations)
	sort.Strings(scope.Customers)
	sort.Strings(scope.Projects)
	return scope, nil
}
