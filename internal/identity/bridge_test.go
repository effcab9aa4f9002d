package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

type bridgeProvider struct {
	Provider

	claims    map[string]TokenClaims
	revoked   []string
	claimsErr error
	revokeErr error
	delay     time.Duration
}

func (p *bridgeProvider) SetCustomClaims(ctx context.Context, uid string, claims TokenClaims) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.claimsErr != nil {
		return p.claimsErr
	}
	if p.claims == nil {
		p.claims = map[string]TokenClaims{}
	}
	p.claims[uid] = claims
	return nil
}

func (p *bridgeProvider) RevokeSessions(ctx context.Context, uid string) error {
	if p.revokeErr != nil {
		return p.revokeErr
	}
	p.revoked = append(p.revoked, uid)
	return nil
}

func TestPushClaimsUpdatesAndRevokes(t *testing.T) {
	provider := &bridgeProvider{}
	bridge := NewBridge(provider, time.Second, nil)

	pushedAt, err := bridge.PushClaims(context.Background(), "u1", "staff", []string{"view_pets"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if pushedAt.IsZero() {
		t.Fatalf("expected push watermark")
	}
	got := provider.claims["u1"]
	if got.Role != "staff" || len(got.Permissions) != 1 {
		t.Fatalf("unexpected claims: %+v", got)
	}
	if got.UpdatedAt != pushedAt {
		t.Fatalf("claims timestamp must match the returned watermark")
	}
	if len(provider.revoked) != 1 || provider.revoked[0] != "u1" {
		t.Fatalf("expected session revocation, got %v", provider.revoked)
	}
}

func TestPushClaimsTimeoutIsRetryable(t *testing.T) {
	provider := &bridgeProvider{delay: 200 * time.Millisecond}
	bridge := NewBridge(provider, 10*time.Millisecond, nil)

	_, err := bridge.PushClaims(context.Background(), "u1", "staff", nil)
	if !IsRetryable(err) {
		t.Fatalf("expected retryable timeout, got %v", err)
	}
}

func TestPushClaimsRevokeFailureSurfaces(t *testing.T) {
	provider := &bridgeProvider{revokeErr: errors.New("idp down")}
	bridge := NewBridge(provider, time.Second, nil)

	_, err := bridge.PushClaims(context.Background(), "u1", "staff", nil)
	if err == nil {
		t.Fatalf("expected revoke failure to surface")
	}
	if _, ok := provider.claims["u1"]; !ok {
		t.Fatalf("claims write should have landed before the revoke failure")
	}
}
