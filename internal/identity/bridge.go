package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Bridge writes role and permission claims into the identity provider and
// revokes outstanding sessions so the change takes effect on the holder's
// next authentication. Each push carries its own timeout; a timeout is a
// retryable failure for that user only.
type Bridge struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewBridge constructs a Bridge.
func NewBridge(provider Provider, timeout time.Duration, logger *slog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{provider: provider, timeout: timeout, logger: logger}
}

// PushClaims updates the user's custom claims and revokes their sessions.
// After a successful return every token issued before the call is
// semantically stale. The claims' UpdatedAt is returned so callers can
// record the push watermark.
func (b *Bridge) PushClaims(ctx context.Context, uid, role string, permissions []string) (time.Time, error) {
	now := time.Now().UTC()
	claims := TokenClaims{
		Role:        role,
		Permissions: append([]string(nil), permissions...),
		UpdatedAt:   now,
	}

	pushCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.provider.SetCustomClaims(pushCtx, uid, claims); err != nil {
		if pushCtx.Err() != nil {
			return time.Time{}, fmt.Errorf("%w: set claims for %s: %v", ErrProviderUnavailable, uid, err)
		}
		return time.Time{}, fmt.Errorf("set claims for %s: %w", uid, err)
	}
	if err := b.provider.RevokeSessions(pushCtx, uid); err != nil {
		// Claims landed but old tokens stay live until expiry. Report the
		// failure so the caller can retry the revocation.
		if b.logger != nil {
			b.logger.Warn("revoke sessions failed after claim push",
				slog.String("uid", uid), slog.Any("error", err))
		}
		if pushCtx.Err() != nil {
			return time.Time{}, fmt.Errorf("%w: revoke sessions for %s: %v", ErrProviderUnavailable, uid, err)
		}
		return time.Time{}, fmt.Errorf("revoke sessions for %s: %w", uid, err)
	}
	return now, nil
}
