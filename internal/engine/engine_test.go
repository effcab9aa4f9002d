package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pawdesk/pawdesk/internal/assignments"
	"github.com/pawdesk/pawdesk/internal/audit"
	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/roles"
)

type stubRoles struct {
	previous roles.RoleDefinition
	updated  roles.RoleDefinition
	created  roles.RoleDefinition
	err      error
}

func (s *stubRoles) Create(ctx context.Context, name string, permissions []string, description string) (roles.RoleDefinition, error) {
	if s.err != nil {
		return roles.RoleDefinition{}, s.err
	}
	return s.created, nil
}

func (s *stubRoles) Update(ctx context.Context, name string, permissions []string, description *string) (roles.RoleDefinition, roles.RoleDefinition, error) {
	if s.err != nil {
		return roles.RoleDefinition{}, roles.RoleDefinition{}, s.err
	}
	return s.previous, s.updated, nil
}

func (s *stubRoles) Get(ctx context.Context, name string) (roles.RoleDefinition, error) {
	return s.updated, s.err
}

func (s *stubRoles) List(ctx context.Context) ([]roles.RoleDefinition, error) {
	return []roles.RoleDefinition{s.updated}, s.err
}

type stubAssignments struct {
	byRole       []assignments.Assignment
	assigned     assignments.Assignment
	recomputeErr map[string]error
}

func (s *stubAssignments) Assign(ctx context.Context, userID, email, roleName string, customPermissions []string) (*assignments.Assignment, assignments.Assignment, error) {
	return nil, s.assigned, nil
}

func (s *stubAssignments) Get(ctx context.Context, userID string) (assignments.Assignment, error) {
	return assignments.Assignment{UserID: userID}, nil
}

func (s *stubAssignments) ListByRole(ctx context.Context, role string) ([]assignments.Assignment, error) {
	return s.byRole, nil
}

func (s *stubAssignments) Recompute(ctx context.Context, a assignments.Assignment, oldDefaults, newDefaults []string) (assignments.Assignment, error) {
	if err := s.recomputeErr[a.UserID]; err != nil {
		return assignments.Assignment{}, err
	}
	a.Permissions = newDefaults
	a.UpdatedAt = time.Now().UTC()
	return a, nil
}

type stubBridge struct {
	failFor map[string]error
}

func (s *stubBridge) PushClaims(ctx context.Context, uid, role string, permissions []string) (time.Time, error) {
	if err := s.failFor[uid]; err != nil {
		return time.Time{}, err
	}
	return time.Now().UTC(), nil
}

type stubDirectory struct {
	users map[string]identity.Identity
}

func (s *stubDirectory) GetUser(ctx context.Context, uid string) (identity.Identity, error) {
	u, ok := s.users[uid]
	if !ok {
		return identity.Identity{}, identity.ErrUserNotFound
	}
	return u, nil
}

type stubAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (s *stubAudit) Append(ctx context.Context, e audit.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

type stubMarker struct {
	mu     sync.Mutex
	marked []string
}

func (s *stubMarker) MarkClaimsPushed(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, userID)
	return nil
}

type stubRetrier struct {
	mu       sync.Mutex
	enqueued []string
}

func (s *stubRetrier) EnqueueClaimPush(ctx context.Context, userID, role string, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, userID)
	return nil
}

type stubMetrics struct {
	role      string
	succeeded int
	failed    int
}

func (s *stubMetrics) ObserveFanOut(role string, succeeded, failed int) {
	s.role = role
	s.succeeded = succeeded
	s.failed = failed
}

func fiveAssignments(role string) []assignments.Assignment {
	out := make([]assignments.Assignment, 0, 5)
	for _, uid := range []string{"u1", "u2", "u3", "u4", "u5"} {
		out = append(out, assignments.Assignment{UserID: uid, Role: role, Permissions: []string{"view_pets"}})
	}
	return out
}

func TestUpdateRoleFanOutIsolatesFailures(t *testing.T) {
	catalog := &stubRoles{
		previous: roles.RoleDefinition{Name: "staff", Permissions: []string{"view_pets"}},
		updated:  roles.RoleDefinition{Name: "staff", Permissions: []string{"view_pets", "manage_pets"}},
	}
	store := &stubAssignments{byRole: fiveAssignments("staff")}
	bridge := &stubBridge{failFor: map[string]error{"u3": identity.ErrUserNotFound}}
	trail := &stubAudit{}
	marker := &stubMarker{}
	retrier := &stubRetrier{}
	metrics := &stubMetrics{}

	eng := New(Params{
		Roles:       catalog,
		Assignments: store,
		Bridge:      bridge,
		Audit:       trail,
		Marker:      marker,
		Retrier:     retrier,
		Metrics:     metrics,
		Concurrency: 4,
	})

	updated, result, err := eng.UpdateRole(context.Background(), "admin@pawdesk.example", "staff", []string{"view_pets", "manage_pets"}, nil)
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if updated.Name != "staff" {
		t.Fatalf("unexpected role: %+v", updated)
	}
	if len(result.Succeeded) != 4 {
		t.Fatalf("expected 4 successes, got %d (%v)", len(result.Succeeded), result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].UserID != "u3" {
		t.Fatalf("expected exactly u3 to fail, got %+v", result.Failed)
	}
	if len(retrier.enqueued) != 0 {
		t.Fatalf("deleted user must not be retried, got %v", retrier.enqueued)
	}
	if len(marker.marked) != 4 {
		t.Fatalf("expected 4 watermark writes, got %d", len(marker.marked))
	}
	if metrics.succeeded != 4 || metrics.failed != 1 || metrics.role != "staff" {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	// One role entry plus one per successfully updated user.
	if len(trail.entries) != 5 {
		t.Fatalf("expected 5 audit entries, got %d", len(trail.entries))
	}
}

func TestUpdateRoleRetriesTransientPushFailure(t *testing.T) {
	catalog := &stubRoles{
		previous: roles.RoleDefinition{Name: "staff", Permissions: []string{"view_pets"}},
		updated:  roles.RoleDefinition{Name: "staff", Permissions: []string{"view_pets", "manage_pets"}},
	}
	store := &stubAssignments{byRole: fiveAssignments("staff")}
	bridge := &stubBridge{failFor: map[string]error{"u2": identity.ErrProviderUnavailable}}
	retrier := &stubRetrier{}

	eng := New(Params{
		Roles:       catalog,
		Assignments: store,
		Bridge:      bridge,
		Audit:       &stubAudit{},
		Retrier:     retrier,
	})

	_, result, err := eng.UpdateRole(context.Background(), "admin@pawdesk.example", "staff", []string{"view_pets", "manage_pets"}, nil)
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].UserID != "u2" {
		t.Fatalf("expected u2 to fail, got %+v", result.Failed)
	}
	if len(retrier.enqueued) != 1 || retrier.enqueued[0] != "u2" {
		t.Fatalf("expected retry scheduled for u2, got %v", retrier.enqueued)
	}
}

func TestUpdateRoleStoreFailureSkipsPush(t *testing.T) {
	catalog := &stubRoles{
		previous: roles.RoleDefinition{Name: "staff", Permissions: []string{"view_pets"}},
		updated:  roles.RoleDefinition{Name: "staff", Permissions: []string{"manage_pets"}},
	}
	store := &stubAssignments{
		byRole:       fiveAssignments("staff"),
		recomputeErr: map[string]error{"u1": errors.New("write conflict")},
	}
	marker := &stubMarker{}

	eng := New(Params{
		Roles:       catalog,
		Assignments: store,
		Bridge:      &stubBridge{},
		Audit:       &stubAudit{},
		Marker:      marker,
	})

	_, result, err := eng.UpdateRole(context.Background(), "admin@pawdesk.example", "staff", []string{"manage_pets"}, nil)
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].UserID != "u1" {
		t.Fatalf("expected u1 store failure, got %+v", result.Failed)
	}
	if len(marker.marked) != 4 {
		t.Fatalf("expected watermark only for pushed users, got %v", marker.marked)
	}
}

func TestCreateRoleAuditOutageBecomesWarning(t *testing.T) {
	catalog := &stubRoles{created: roles.RoleDefinition{Name: "groomer", Permissions: []string{"manage_pets"}}}
	eng := New(Params{
		Roles:       catalog,
		Assignments: &stubAssignments{},
		Bridge:      &stubBridge{},
		Audit:       &stubAudit{err: errors.New("audit store down")},
	})

	created, warnings, err := eng.CreateRole(context.Background(), "admin@pawdesk.example", "groomer", []string{"manage_pets"}, "")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if created.Name != "groomer" {
		t.Fatalf("unexpected role: %+v", created)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "audit") {
		t.Fatalf("expected audit warning, got %v", warnings)
	}
}

func TestAssignUserRolePushFailureIsNonFatal(t *testing.T) {
	store := &stubAssignments{assigned: assignments.Assignment{
		UserID:      "u9",
		Role:        "manager",
		Permissions: []string{"manage_staff"},
	}}
	retrier := &stubRetrier{}
	eng := New(Params{
		Roles:       &stubRoles{},
		Assignments: store,
		Bridge:      &stubBridge{failFor: map[string]error{"u9": identity.ErrProviderUnavailable}},
		Directory:   &stubDirectory{users: map[string]identity.Identity{"u9": {UID: "u9", Email: "lee@pawdesk.example"}}},
		Audit:       &stubAudit{},
		Retrier:     retrier,
	})

	updated, warnings, err := eng.AssignUserRole(context.Background(), "admin@pawdesk.example", "u9", "manager", nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if updated.Role != "manager" {
		t.Fatalf("unexpected assignment: %+v", updated)
	}
	if len(warnings) == 0 || !strings.Contains(warnings[0], "claim push failed") {
		t.Fatalf("expected claim push warning, got %v", warnings)
	}
	if len(retrier.enqueued) != 1 || retrier.enqueued[0] != "u9" {
		t.Fatalf("expected retry for u9, got %v", retrier.enqueued)
	}
}

func TestAssignUserRoleUnknownUser(t *testing.T) {
	eng := New(Params{
		Roles:       &stubRoles{},
		Assignments: &stubAssignments{},
		Bridge:      &stubBridge{},
		Directory:   &stubDirectory{users: map[string]identity.Identity{}},
		Audit:       &stubAudit{},
	})

	_, _, err := eng.AssignUserRole(context.Background(), "admin@pawdesk.example", "ghost", "staff", nil)
	if !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestReconcilePushesStaleAssignments(t *testing.T) {
	marker := &stubMarker{}
	eng := New(Params{
		Roles:       &stubRoles{},
		Assignments: &stubAssignments{},
		Bridge:      &stubBridge{failFor: map[string]error{"u2": identity.ErrProviderUnavailable}},
		Audit:       &stubAudit{},
		Marker:      marker,
	})

	result := eng.Reconcile(context.Background(), fiveAssignments("staff")[:3])
	if len(result.Succeeded) != 2 {
		t.Fatalf("expected 2 successes, got %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].UserID != "u2" {
		t.Fatalf("expected u2 failure, got %+v", result.Failed)
	}
	if len(marker.marked) != 2 {
		t.Fatalf("expected 2 watermark writes, got %v", marker.marked)
	}
}
