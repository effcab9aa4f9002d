// Package identity abstracts the external identity provider and owns the
// bridge that projects role assignments into bearer-token claims.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound indicates the identity record itself is missing.
	// This is terminal, not retryable.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrProviderUnavailable indicates a transient provider failure.
	// Callers may retry with backoff.
	ErrProviderUnavailable = errors.New("identity: provider unavailable")
	// ErrInvalidToken indicates signature or expiry verification failed.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// IsRetryable reports whether the provider error is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// Identity is a user record held by the identity provider.
type Identity struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Disabled bool   `json:"disabled"`
}

// VerifiedToken is the result of verifying a bearer token.
type VerifiedToken struct {
	UID    string
	Email  string
	Expiry time.Time
	Claims TokenClaims
}

// Page is one page of the provider's user directory.
type Page struct {
	Users         []Identity `json:"users"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

// Provider is the contract the external identity provider must satisfy.
// Implementations map their own failures onto ErrUserNotFound,
// ErrProviderUnavailable and ErrInvalidToken.
type Provider interface {
	VerifyToken(ctx context.Context, token string) (VerifiedToken, error)
	SetCustomClaims(ctx context.Context, uid string, claims TokenClaims) error
	RevokeSessions(ctx context.Context, uid string) error
	CreateUser(ctx context.Context, email string) (Identity, error)
	GetUser(ctx context.Context, uid string) (Identity, error)
	ListUsers(ctx context.Context, pageToken string, pageSize int) (Page, error)
}
