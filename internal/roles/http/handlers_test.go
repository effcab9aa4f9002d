package roleshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawdesk/pawdesk/internal/engine"
	"github.com/pawdesk/pawdesk/internal/perms"
	"github.com/pawdesk/pawdesk/internal/roles"
)

type mockEngine struct {
	created    roles.RoleDefinition
	updated    roles.RoleDefinition
	fanOut     engine.FanOutResult
	warnings   []string
	createErr  error
	updateErr  error
	lastActor  string
	lastName   string
	lastPerms  []string
	lastUpdate []string
}

func (m *mockEngine) CreateRole(ctx context.Context, actor, name string, permissions []string, description string) (roles.RoleDefinition, []string, error) {
	m.lastActor = actor
	m.lastName = name
	m.lastPerms = permissions
	if m.createErr != nil {
		return roles.RoleDefinition{}, nil, m.createErr
	}
	return m.created, m.warnings, nil
}

func (m *mockEngine) UpdateRole(ctx context.Context, actor, name string, permissions []string, description *string) (roles.RoleDefinition, engine.FanOutResult, error) {
	m.lastActor = actor
	m.lastName = name
	m.lastUpdate = permissions
	if m.updateErr != nil {
		return roles.RoleDefinition{}, engine.FanOutResult{}, m.updateErr
	}
	return m.updated, m.fanOut, nil
}

type mockCatalog struct {
	byName map[string]roles.RoleDefinition
	list   []roles.RoleDefinition
	err    error
}

func (m *mockCatalog) Get(ctx context.Context, name string) (roles.RoleDefinition, error) {
	if m.err != nil {
		return roles.RoleDefinition{}, m.err
	}
	role, ok := m.byName[name]
	if !ok {
		return roles.RoleDefinition{}, roles.ErrNotFound
	}
	return role, nil
}

func (m *mockCatalog) List(ctx context.Context) ([]roles.RoleDefinition, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

func newTestRouter(eng *mockEngine, catalog *mockCatalog) http.Handler {
	h := NewHandler(nil, eng, catalog)
	r := chi.NewRouter()
	r.Route("/roles", h.MountRoutes)
	return r
}

func problemCode(t *testing.T, body string) string {
	t.Helper()
	var problem struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &problem))
	return problem.Code
}

func TestListRoles(t *testing.T) {
	catalog := &mockCatalog{list: roles.SystemRoles()}
	router := newTestRouter(&mockEngine{}, catalog)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Roles []roles.RoleDefinition `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Roles, 4)
}

func TestGetRoleNotFound(t *testing.T) {
	router := newTestRouter(&mockEngine{}, &mockCatalog{byName: map[string]roles.RoleDefinition{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles/ghost", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "role_not_found", problemCode(t, rec.Body.String()))
}

func TestCreateRole(t *testing.T) {
	eng := &mockEngine{created: roles.RoleDefinition{
		Name:        "night_shift",
		Permissions: []string{perms.ViewAppointments},
	}}
	router := newTestRouter(eng, &mockCatalog{})

	body := `{"name":"night_shift","permissions":["view_appointments"],"description":"overnight crew"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/roles/", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "night_shift", eng.lastName)
	assert.Equal(t, []string{"view_appointments"}, eng.lastPerms)
	assert.Equal(t, "unknown", eng.lastActor)

	var payload roleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "night_shift", payload.Role.Name)
	assert.Empty(t, payload.Warnings)
}

func TestCreateRoleRejectsEmptyPermissions(t *testing.T) {
	eng := &mockEngine{}
	router := newTestRouter(eng, &mockCatalog{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/roles/", strings.NewReader(`{"name":"night_shift","permissions":[]}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", problemCode(t, rec.Body.String()))
	assert.Empty(t, eng.lastName, "engine must not be called on validation failure")
}

func TestCreateRoleDuplicate(t *testing.T) {
	eng := &mockEngine{createErr: roles.ErrDuplicate}
	router := newTestRouter(eng, &mockCatalog{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/roles/", strings.NewReader(`{"name":"night_shift","permissions":["view_appointments"]}`)))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_role", problemCode(t, rec.Body.String()))
}

func TestCreateRoleUnknownPermission(t *testing.T) {
	eng := &mockEngine{createErr: &perms.InvalidPermissionError{Rejected: []string{"fly_spaceship"}}}
	router := newTestRouter(eng, &mockCatalog{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/roles/", strings.NewReader(`{"name":"night_shift","permissions":["fly_spaceship"]}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_permission", problemCode(t, rec.Body.String()))
}

func TestUpdateRoleReturnsFanOut(t *testing.T) {
	eng := &mockEngine{
		updated: roles.RoleDefinition{Name: "staff", Permissions: []string{perms.ViewAppointments, perms.ViewReports}},
		fanOut: engine.FanOutResult{
			Succeeded: []string{"u1", "u2"},
			Failed:    []engine.UserFailure{{UserID: "u3", Reason: "identity: user not found"}},
		},
	}
	router := newTestRouter(eng, &mockCatalog{})

	body := `{"permissions":["view_appointments","view_reports"]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/roles/staff", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "staff", eng.lastName)

	var payload updateRoleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.ElementsMatch(t, []string{"u1", "u2"}, payload.FanOut.Succeeded)
	require.Len(t, payload.FanOut.Failed, 1)
	assert.Equal(t, "u3", payload.FanOut.Failed[0].UserID)
}

func TestUpdateAdminRoleForbidden(t *testing.T) {
	eng := &mockEngine{updateErr: roles.ErrProtected}
	router := newTestRouter(eng, &mockCatalog{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/roles/admin", strings.NewReader(`{"permissions":["view_reports"]}`)))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "protected_role", problemCode(t, rec.Body.String()))
}

func TestPermissionsCatalogListing(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/permissions", PermissionsHandler{}.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/permissions/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		CatalogVersion int                `json:"catalog_version"`
		Permissions    []perms.Permission `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, perms.CatalogVersion, payload.CatalogVersion)
	assert.Len(t, payload.Permissions, len(perms.Names()))
}
