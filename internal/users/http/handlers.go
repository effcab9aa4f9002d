// Package usershttp exposes the user directory and role assignment API.
package usershttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pawdesk/pawdesk/internal/assignments"
	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/perms"
	"github.com/pawdesk/pawdesk/internal/platform/httpx"
	"github.com/pawdesk/pawdesk/internal/rbac"
	"github.com/pawdesk/pawdesk/internal/roles"
)

// EngineService is the synchronization-engine contract consumed here.
type EngineService interface {
	AssignUserRole(ctx context.Context, actor, userID, roleName string, customPermissions []string) (assignments.Assignment, []string, error)
}

// AssignmentReader is the read side of the assignment store.
type AssignmentReader interface {
	Get(ctx context.Context, userID string) (assignments.Assignment, error)
}

// Directory lists identity-provider users.
type Directory interface {
	ListUsers(ctx context.Context, pageToken string, pageSize int) (identity.Page, error)
}

// Handler manages user directory endpoints.
type Handler struct {
	logger      *slog.Logger
	engine      EngineService
	assignments AssignmentReader
	directory   Directory
	validate    *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, eng EngineService, reader AssignmentReader, directory Directory) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		engine:      eng,
		assignments: reader,
		directory:   directory,
		validate:    validator.New(),
	}
}

// MountRoutes registers user routes. Callers mount this group behind the
// admin enforcement chain.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/{uid}/role", h.getUserRole)
	r.Put("/{uid}/role", h.assignUserRole)
}

type assignRoleRequest struct {
	Role        string   `json:"role" validate:"required,min=2,max=64"`
	Permissions []string `json:"permissions,omitempty"`
}

type assignRoleResponse struct {
	Assignment assignments.Assignment `json:"assignment"`
	Warnings   []string               `json:"warnings,omitempty"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			pageSize = v
		}
	}
	page, err := h.directory.ListUsers(r.Context(), r.URL.Query().Get("page_token"), pageSize)
	if err != nil {
		h.logger.Error("user directory listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, httpx.CodeIdentityProvider, "Identity Provider Error",
			"user directory is unavailable")
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) getUserRole(w http.ResponseWriter, r *http.Request) {
	a, err := h.assignments.Get(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		httpx.RespondStorageError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) assignUserRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", err.Error())
		return
	}
	uid := chi.URLParam(r, "uid")
	updated, warnings, err := h.engine.AssignUserRole(r.Context(), actorFrom(r), uid, req.Role, req.Permissions)
	if err != nil {
		respondAssignError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignRoleResponse{Assignment: updated, Warnings: warnings})
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

func respondAssignError(w http.ResponseWriter, err error) {
	var invalid *perms.InvalidPermissionError
	switch {
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeInvalidPermission, "Invalid Permissions", invalid.Error())
	case errors.Is(err, roles.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, httpx.CodeRoleNotFound, "Role Not Found", err.Error())
	case errors.Is(err, assignments.ErrAdminDowngrade):
		httpx.Problem(w, http.StatusConflict, httpx.CodeAdminDowngrade, "Admin Downgrade Blocked", err.Error())
	case errors.Is(err, assignments.ErrDomainRestricted):
		httpx.Problem(w, http.StatusForbidden, httpx.CodeDomainRestriction, "Domain Restriction", err.Error())
	case errors.Is(err, identity.ErrUserNotFound):
		httpx.Problem(w, http.StatusNotFound, httpx.CodeUserNotFound, "User Not Found", err.Error())
	case errors.Is(err, identity.ErrProviderUnavailable):
		httpx.Problem(w, http.StatusBadGateway, httpx.CodeIdentityProvider, "Identity Provider Error", err.Error())
	default:
		httpx.RespondStorageError(w, err)
	}
}
