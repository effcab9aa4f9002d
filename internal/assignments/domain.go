// Package assignments maintains the per-user role assignment table, the
// elevation guard and the admin-downgrade protection.
package assignments

import (
	"errors"
	"time"
)

var (
	// ErrNoAssignment indicates the user has no persisted assignment.
	ErrNoAssignment = errors.New("assignments: no assignment for user")
	// ErrAdminDowngrade indicates an attempt to move an admin off the admin role.
	ErrAdminDowngrade = errors.New("assignments: admin role cannot be downgraded")
	// ErrDomainRestricted indicates an elevated role was requested for an
	// identity outside the trusted staff domain.
	ErrDomainRestricted = errors.New("assignments: elevated roles require a trusted-domain address")
)

// Assignment ties a user to exactly one role with a resolved permission set.
// Permissions are the role defaults plus any admin-granted custom overrides.
type Assignment struct {
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	UpdatedAt   time.Time `json:"updated_at"`
}
