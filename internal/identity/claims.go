package identity

import "time"

// TokenClaims is the authorization payload embedded in bearer tokens.
// It is produced exclusively by the claim bridge and read-only everywhere
// else. Claims are a cache of the assignment store; on conflict the store
// wins.
type TokenClaims struct {
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Freshness tags a claim set relative to the assignment store.
type Freshness int

// Claim freshness states.
const (
	Fresh Freshness = iota
	StalePendingRefresh
)

// FreshnessAgainst compares the claims with the store's last write. Claims
// written at or after the store write are fresh; anything older was issued
// before the latest assignment and must be re-derived.
func (c TokenClaims) FreshnessAgainst(storeUpdatedAt time.Time) Freshness {
	if storeUpdatedAt.IsZero() {
		return Fresh
	}
	if c.UpdatedAt.Before(storeUpdatedAt) {
		return StalePendingRefresh
	}
	return Fresh
}

// WithDefaults fills gaps left by older tokens. A token missing the
// permissions claim falls back to the role's catalog defaults, never to the
// wildcard. A token missing the role claim falls back to defaultRole.
func (c TokenClaims) WithDefaults(defaultRole string, roleDefaults []string) TokenClaims {
	out := c
	if out.Role == "" {
		out.Role = defaultRole
	}
	if out.Permissions == nil {
		out.Permissions = append([]string(nil), roleDefaults...)
	}
	return out
}

// HasPermission reports whether the claim set grants p.
func (c TokenClaims) HasPermission(p string) bool {
	for _, granted := range c.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}
