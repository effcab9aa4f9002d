// Package audithttp serves the read-only audit timeline API.
package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pawdesk/pawdesk/internal/audit"
	"github.com/pawdesk/pawdesk/internal/platform/httpx"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler serves audit timeline requests.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler builds a timeline handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the timeline route. Callers mount this group behind
// the admin enforcement chain.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{subjectType}/{subjectID}", h.handleTimeline)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	subjectType := audit.SubjectType(chi.URLParam(r, "subjectType"))
	if subjectType != audit.SubjectRole && subjectType != audit.SubjectUser {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed",
			"subject type must be role or user")
		return
	}

	filters := audit.TimelineFilters{
		SubjectType: subjectType,
		SubjectID:   chi.URLParam(r, "subjectID"),
		Page:        queryInt(r, "page", 1),
		PageSize:    queryInt(r, "page_size", 0),
	}

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline query failed", slog.Any("error", err))
		httpx.RespondStorageError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
