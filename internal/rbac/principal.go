// Package rbac enforces authorization at the request boundary. It resolves
// the caller from a bearer token and applies route policy. This package only
// ever reads the stores; every write goes through the synchronization engine.
package rbac

import (
	"context"

	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/roles"
)

// Principal is the authenticated caller resolved for one request.
type Principal struct {
	UID         string
	Email       string
	Role        string
	Permissions []string
	Freshness   identity.Freshness
}

// HasPermission reports whether the principal holds p. The wildcard is not
// consulted here; admin bypass is decided by IsSuperAdmin at the policy
// layer.
func (p Principal) HasPermission(perm string) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// IsSuperAdmin is the single predicate deciding the admin bypass. Every
// policy check consults it first rather than re-implementing the comparison.
func IsSuperAdmin(role string) bool {
	return role == roles.RoleAdmin
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
