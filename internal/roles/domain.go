// Package roles maintains the durable catalog of role definitions and the
// policies protecting the built-in system roles.
package roles

import (
	"errors"
	"regexp"
	"time"

	"github.com/pawdesk/pawdesk/internal/perms"
)

// Built-in system role names, fixed at bootstrap.
const (
	RoleAdmin        = "admin"
	RoleManager      = "manager"
	RoleStaff        = "staff"
	RoleReceptionist = "receptionist"
)

// DefaultRole is assigned to users without an explicit assignment.
// It must always be the lowest-privilege system role.
const DefaultRole = RoleReceptionist

var (
	// ErrNotFound indicates the requested role does not exist.
	ErrNotFound = errors.New("roles: role not found")
	// ErrDuplicate indicates a role with the same name already exists.
	ErrDuplicate = errors.New("roles: role already exists")
	// ErrReservedName indicates the name collides with a system role.
	ErrReservedName = errors.New("roles: name reserved for a system role")
	// ErrProtected indicates the mutation would violate system-role policy.
	ErrProtected = errors.New("roles: protected role")
	// ErrInvalidName indicates the role name fails the naming rules.
	ErrInvalidName = errors.New("roles: invalid role name")
)

// RoleDefinition is a named, reusable bundle of permissions.
type RoleDefinition struct {
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// systemBaselines are the minimum permission sets for system roles. Updates
// may extend a system role beyond its baseline but never shrink it below.
// The staff baseline is deliberately the restricted list, not the wildcard;
// grooming and veterinary staff never receive blanket access.
var systemBaselines = map[string][]string{
	RoleAdmin: {perms.All},
	RoleManager: {
		perms.ManageAppointments,
		perms.ViewAppointments,
		perms.ManageCustomers,
		perms.ViewCustomers,
		perms.ManagePets,
		perms.ViewPets,
		perms.ManageInventory,
		perms.ViewInventory,
		perms.ViewReports,
		perms.ManageSettings,
	},
	RoleStaff: {
		perms.ManageAppointments,
		perms.ViewAppointments,
		perms.ManagePets,
		perms.ViewCustomers,
		perms.ViewInventory,
	},
	RoleReceptionist: {
		perms.ViewAppointments,
		perms.ViewCustomers,
	},
}

var systemDescriptions = map[string]string{
	RoleAdmin:        "full administrative access",
	RoleManager:      "location manager with broad operational access",
	RoleStaff:        "groomers and veterinary staff",
	RoleReceptionist: "front desk, read-mostly access",
}

// IsSystemRole reports whether name belongs to a built-in role.
func IsSystemRole(name string) bool {
	_, ok := systemBaselines[name]
	return ok
}

// SystemBaseline returns the minimum permission set for a system role.
func SystemBaseline(name string) ([]string, bool) {
	base, ok := systemBaselines[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(base))
	copy(out, base)
	return out, true
}

// SystemRoles returns the bootstrap definitions for every system role.
func SystemRoles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(systemBaselines))
	for _, name := range []string{RoleAdmin, RoleManager, RoleStaff, RoleReceptionist} {
		base, _ := SystemBaseline(name)
		out = append(out, RoleDefinition{
			Name:        name,
			Permissions: base,
			Description: systemDescriptions[name],
			IsSystem:    true,
		})
	}
	return out
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)

// ValidateName checks the role naming rules: lowercase alphanumerics,
// underscore and hyphen, 2-64 characters, starting with a letter.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// ContainsAll reports whether superset covers every element of subset.
func ContainsAll(superset, subset []string) bool {
	have := make(map[string]struct{}, len(superset))
	for _, p := range superset {
		have[p] = struct{}{}
	}
	for _, p := range subset {
		if _, ok := have[p]; !ok {
			return false
		}
	}
	return true
}
