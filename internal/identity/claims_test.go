package identity

import (
	"testing"
	"time"
)

func TestFreshnessAgainst(t *testing.T) {
	now := time.Now().UTC()

	claims := TokenClaims{UpdatedAt: now}
	if claims.FreshnessAgainst(now.Add(-time.Minute)) != Fresh {
		t.Fatalf("claims newer than store must be fresh")
	}
	if claims.FreshnessAgainst(now.Add(time.Minute)) != StalePendingRefresh {
		t.Fatalf("claims older than store must be stale")
	}
	if claims.FreshnessAgainst(time.Time{}) != Fresh {
		t.Fatalf("zero store timestamp means no write to lag behind")
	}
	if claims.FreshnessAgainst(now) != Fresh {
		t.Fatalf("equal timestamps are fresh")
	}
}

func TestWithDefaults(t *testing.T) {
	empty := TokenClaims{}
	filled := empty.WithDefaults("receptionist", []string{"view_appointments"})
	if filled.Role != "receptionist" {
		t.Fatalf("expected default role, got %s", filled.Role)
	}
	if len(filled.Permissions) != 1 || filled.Permissions[0] != "view_appointments" {
		t.Fatalf("expected role defaults, got %v", filled.Permissions)
	}

	// Existing claims are never overwritten.
	existing := TokenClaims{Role: "staff", Permissions: []string{"view_pets"}}
	kept := existing.WithDefaults("receptionist", []string{"view_appointments"})
	if kept.Role != "staff" || kept.Permissions[0] != "view_pets" {
		t.Fatalf("existing claims must survive: %+v", kept)
	}

	// An explicitly empty permission slice is distinct from a missing one.
	denied := TokenClaims{Role: "staff", Permissions: []string{}}
	if got := denied.WithDefaults("staff", []string{"view_pets"}); len(got.Permissions) != 0 {
		t.Fatalf("empty grant must stay empty, got %v", got.Permissions)
	}
}

func TestHasPermission(t *testing.T) {
	claims := TokenClaims{Permissions: []string{"view_pets", "manage_pets"}}
	if !claims.HasPermission("manage_pets") {
		t.Fatalf("expected grant")
	}
	if claims.HasPermission("manage_settings") {
		t.Fatalf("unexpected grant")
	}
}
