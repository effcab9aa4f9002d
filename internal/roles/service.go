package roles

import (
	"context"
	"fmt"

	"github.com/pawdesk/pawdesk/internal/perms"
)

// RepositoryPort defines data access methods for role definitions.
type RepositoryPort interface {
	Get(ctx context.Context, name string) (RoleDefinition, error)
	List(ctx context.Context) ([]RoleDefinition, error)
	Create(ctx context.Context, role RoleDefinition) (RoleDefinition, error)
	Update(ctx context.Context, name string, permissions []string, description *string) (RoleDefinition, error)
	Seed(ctx context.Context, role RoleDefinition) error
}

// Service owns the role catalog policy. System-role protection and admin
// immutability are enforced here so no caller can bypass them.
type Service struct {
	repo  RepositoryPort
	cache PermissionCache
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cache PermissionCache) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{repo: repo, cache: cache}
}

// Bootstrap seeds the system roles, leaving already-present rows untouched.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, role := range SystemRoles() {
		if err := s.repo.Seed(ctx, role); err != nil {
			return fmt.Errorf("bootstrap %s: %w", role.Name, err)
		}
	}
	return nil
}

// Create inserts a custom role after validating the name and permission set.
func (s *Service) Create(ctx context.Context, name string, permissions []string, description string) (RoleDefinition, error) {
	if err := ValidateName(name); err != nil {
		return RoleDefinition{}, err
	}
	if IsSystemRole(name) {
		return RoleDefinition{}, fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	valid, err := perms.Validate(permissions)
	if err != nil {
		return RoleDefinition{}, err
	}
	return s.repo.Create(ctx, RoleDefinition{
		Name:        name,
		Permissions: valid,
		Description: description,
		IsSystem:    false,
	})
}

// Update replaces a role's permission set. The admin role is immutable; other
// system roles may only be extended beyond their baseline, never shrunk below
// it. Returns the previous and updated definitions so callers can audit and
// fan out the change.
func (s *Service) Update(ctx context.Context, name string, permissions []string, description *string) (previous, updated RoleDefinition, err error) {
	if name == RoleAdmin {
		return RoleDefinition{}, RoleDefinition{}, fmt.Errorf("%w: admin permissions are immutable", ErrProtected)
	}
	valid, err := perms.Validate(permissions)
	if err != nil {
		return RoleDefinition{}, RoleDefinition{}, err
	}
	previous, err = s.repo.Get(ctx, name)
	if err != nil {
		return RoleDefinition{}, RoleDefinition{}, err
	}
	if previous.IsSystem {
		baseline, _ := SystemBaseline(name)
		if !ContainsAll(valid, baseline) {
			return RoleDefinition{}, RoleDefinition{}, fmt.Errorf("%w: %s cannot drop below its baseline", ErrProtected, name)
		}
	}
	updated, err = s.repo.Update(ctx, name, valid, description)
	if err != nil {
		return RoleDefinition{}, RoleDefinition{}, err
	}
	s.cache.Invalidate(ctx, name)
	return previous, updated, nil
}

// Get fetches a single role definition.
func (s *Service) Get(ctx context.Context, name string) (RoleDefinition, error) {
	return s.repo.Get(ctx, name)
}

// List returns every role definition.
func (s *Service) List(ctx context.Context) ([]RoleDefinition, error) {
	return s.repo.List(ctx)
}

// Permissions resolves the current default permission set for a role,
// consulting the TTL cache before the store.
func (s *Service) Permissions(ctx context.Context, name string) ([]string, error) {
	if cached, ok := s.cache.Get(ctx, name); ok {
		return cached, nil
	}
	role, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, name, role.Permissions)
	return role.Permissions, nil
}
