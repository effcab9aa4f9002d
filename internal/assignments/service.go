package assignments

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pawdesk/pawdesk/internal/perms"
	"github.com/pawdesk/pawdesk/internal/roles"
)

// RepositoryPort defines data access methods for assignments.
type RepositoryPort interface {
	Get(ctx context.Context, userID string) (Assignment, error)
	Upsert(ctx context.Context, a Assignment) (Assignment, error)
	ListByRole(ctx context.Context, role string) ([]Assignment, error)
}

// RoleCatalog resolves role definitions and default permission sets.
type RoleCatalog interface {
	Get(ctx context.Context, name string) (roles.RoleDefinition, error)
	Permissions(ctx context.Context, name string) ([]string, error)
}

// ElevationPolicy configures the guard on assigning elevated roles.
// Admin and manager may only be granted to identities whose verified address
// belongs to TrustedDomain, unless DevOverride is explicitly enabled.
type ElevationPolicy struct {
	TrustedDomain string
	DevOverride   bool
}

// Service owns assignment writes. The elevation and admin-downgrade guards
// live here, not in any handler, so no client can route around them.
type Service struct {
	repo      RepositoryPort
	catalog   RoleCatalog
	elevation ElevationPolicy
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, catalog RoleCatalog, elevation ElevationPolicy) *Service {
	return &Service{repo: repo, catalog: catalog, elevation: elevation}
}

// elevatedRoles require a trusted-domain address.
var elevatedRoles = map[string]struct{}{
	roles.RoleAdmin:   {},
	roles.RoleManager: {},
}

// Assign persists the single active assignment for a user. email is the
// target identity's verified contact address, used by the elevation guard.
// Returns the previous assignment (nil when the user had none) and the stored
// one so the caller can audit the transition and push claims.
func (s *Service) Assign(ctx context.Context, userID, email, roleName string, customPermissions []string) (previous *Assignment, updated Assignment, err error) {
	role, err := s.catalog.Get(ctx, roleName)
	if err != nil {
		return nil, Assignment{}, err
	}
	custom, err := perms.Validate(customPermissions)
	if err != nil {
		return nil, Assignment{}, err
	}

	var prev *Assignment
	current, err := s.repo.Get(ctx, userID)
	switch err {
	case nil:
		prev = &current
		if current.Role == roles.RoleAdmin && roleName != roles.RoleAdmin {
			return nil, Assignment{}, fmt.Errorf("%w: user %s", ErrAdminDowngrade, userID)
		}
	case ErrNoAssignment:
		// first assignment for this user
	default:
		return nil, Assignment{}, err
	}

	if _, elevated := elevatedRoles[roleName]; elevated && !s.elevation.DevOverride {
		if !addressInDomain(email, s.elevation.TrustedDomain) {
			return nil, Assignment{}, fmt.Errorf("%w: %q is outside %q", ErrDomainRestricted, email, s.elevation.TrustedDomain)
		}
	}

	updated, err = s.repo.Upsert(ctx, Assignment{
		UserID:      userID,
		Role:        roleName,
		Permissions: union(role.Permissions, custom),
	})
	if err != nil {
		return nil, Assignment{}, err
	}
	return prev, updated, nil
}

// Get returns the user's assignment, or a synthesized lowest-privilege
// default when none exists. New users must never default to elevated access.
func (s *Service) Get(ctx context.Context, userID string) (Assignment, error) {
	a, err := s.repo.Get(ctx, userID)
	if err == nil {
		return a, nil
	}
	if err != ErrNoAssignment {
		return Assignment{}, err
	}
	defaults, err := s.catalog.Permissions(ctx, roles.DefaultRole)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{
		UserID:      userID,
		Role:        roles.DefaultRole,
		Permissions: defaults,
	}, nil
}

// ListByRole enumerates every assignment referencing the role. Used by the
// synchronization engine's fan-out.
func (s *Service) ListByRole(ctx context.Context, role string) ([]Assignment, error) {
	return s.repo.ListByRole(ctx, role)
}

// Recompute rebuilds a user's resolved permission set after a role change.
// Custom overrides are whatever the user held beyond the old role defaults;
// they survive the transition on top of the new defaults.
func (s *Service) Recompute(ctx context.Context, a Assignment, oldDefaults, newDefaults []string) (Assignment, error) {
	overrides := difference(a.Permissions, oldDefaults)
	return s.repo.Upsert(ctx, Assignment{
		UserID:      a.UserID,
		Role:        a.Role,
		Permissions: union(newDefaults, overrides),
	})
}

func addressInDomain(email, domain string) bool {
	if domain == "" {
		return false
	}
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return email[at+1:] == strings.ToLower(domain)
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func difference(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, p := range b {
		drop[p] = struct{}{}
	}
	var out []string
	for _, p := range a {
		if _, ok := drop[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
