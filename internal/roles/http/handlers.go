// Package roleshttp exposes the role catalog admin API.
package roleshttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pawdesk/pawdesk/internal/engine"
	"github.com/pawdesk/pawdesk/internal/perms"
	"github.com/pawdesk/pawdesk/internal/platform/httpx"
	"github.com/pawdesk/pawdesk/internal/rbac"
	"github.com/pawdesk/pawdesk/internal/roles"
)

// EngineService is the synchronization-engine contract consumed here.
type EngineService interface {
	CreateRole(ctx context.Context, actor, name string, permissions []string, description string) (roles.RoleDefinition, []string, error)
	UpdateRole(ctx context.Context, actor, name string, permissions []string, description *string) (roles.RoleDefinition, engine.FanOutResult, error)
}

// Catalog is the read side of the role store.
type Catalog interface {
	Get(ctx context.Context, name string) (roles.RoleDefinition, error)
	List(ctx context.Context) ([]roles.RoleDefinition, error)
}

// Handler manages role management endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   EngineService
	catalog  Catalog
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, eng EngineService, catalog Catalog) *Handler {
	return &Handler{
		logger:   logger,
		engine:   eng,
		catalog:  catalog,
		validate: validator.New(),
	}
}

// MountRoutes registers role routes. Callers mount this group behind the
// admin enforcement chain.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Post("/", h.createRole)
	r.Get("/{name}", h.getRole)
	r.Put("/{name}", h.updateRole)
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=64"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
	Description string   `json:"description" validate:"max=255"`
}

type updateRoleRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=255"`
}

type roleResponse struct {
	Role     roles.RoleDefinition `json:"role"`
	Warnings []string             `json:"warnings,omitempty"`
}

type updateRoleResponse struct {
	Role   roles.RoleDefinition `json:"role"`
	FanOut engine.FanOutResult  `json:"fan_out"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List(r.Context())
	if err != nil {
		respondRoleError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": list})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.catalog.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondRoleError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", err.Error())
		return
	}
	created, warnings, err := h.engine.CreateRole(r.Context(), actorFrom(r), req.Name, req.Permissions, req.Description)
	if err != nil {
		respondRoleError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, roleResponse{Role: created, Warnings: warnings})
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	updated, fanOut, err := h.engine.UpdateRole(r.Context(), actorFrom(r), name, req.Permissions, req.Description)
	if err != nil {
		respondRoleError(w, err)
		return
	}
	if h.logger != nil && len(fanOut.Failed) > 0 {
		h.logger.Warn("role update fan-out reported failures",
			slog.String("role", name), slog.Int("failed", len(fanOut.Failed)))
	}
	httpx.JSON(w, http.StatusOK, updateRoleResponse{Role: updated, FanOut: fanOut})
}

// PermissionsHandler serves the read-only catalog listing.
type PermissionsHandler struct{}

// MountRoutes registers the catalog endpoint.
func (PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"catalog_version": perms.CatalogVersion,
			"permissions":     perms.List(),
		})
	})
}

func actorFrom(r *http.Request) string {
	if principal, ok := rbac.PrincipalFromContext(r.Context()); ok {
		if principal.Email != "" {
			return principal.Email
		}
		return principal.UID
	}
	return "unknown"
}

func respondRoleError(w http.ResponseWriter, err error) {
	var invalid *perms.InvalidPermissionError
	switch {
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeInvalidPermission, "Invalid Permissions", invalid.Error())
	case errors.Is(err, roles.ErrInvalidName):
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", err.Error())
	case errors.Is(err, roles.ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, httpx.CodeDuplicateRole, "Duplicate Role", err.Error())
	case errors.Is(err, roles.ErrReservedName):
		httpx.Problem(w, http.StatusConflict, httpx.CodeReservedName, "Reserved Name", err.Error())
	case errors.Is(err, roles.ErrProtected):
		httpx.Problem(w, http.StatusForbidden, httpx.CodeProtectedRole, "Protected Role", err.Error())
	case errors.Is(err, roles.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, httpx.CodeRoleNotFound, "Role Not Found", err.Error())
	default:
		httpx.RespondStorageError(w, err)
	}
}
