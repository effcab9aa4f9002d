package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/pawdesk/pawdesk/internal/audit/http"
	"github.com/pawdesk/pawdesk/internal/auth"
	"github.com/pawdesk/pawdesk/internal/observability"
	"github.com/pawdesk/pawdesk/internal/rbac"
	"github.com/pawdesk/pawdesk/internal/roles"
	roleshttp "github.com/pawdesk/pawdesk/internal/roles/http"
	usershttp "github.com/pawdesk/pawdesk/internal/users/http"
	"github.com/pawdesk/pawdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	AuthHandler  *auth.Handler
	RolesHandler *roleshttp.Handler
	UsersHandler *usershttp.Handler
	AuditHandler *audithttp.Handler
	JobsHandler  *jobs.Handler
	RBAC         rbac.Middleware
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Pawdesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.AuthHandler != nil {
			api.Route("/auth", params.AuthHandler.MountRoutes)
		}

		// The permission catalog is readable by any authenticated user.
		api.Group(func(g chi.Router) {
			g.Use(params.RBAC.Authenticate)
			g.Route("/permissions", roleshttp.PermissionsHandler{}.MountRoutes)
		})

		// Management surface. Managers are cut off before any generic check
		// runs, then everything below requires the admin role.
		api.Group(func(g chi.Router) {
			g.Use(params.RBAC.Authenticate)
			g.Use(params.RBAC.RestrictedForManagers)
			g.Use(params.RBAC.RequireRole(roles.RoleAdmin))

			if params.RolesHandler != nil {
				g.Route("/roles", params.RolesHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				g.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.AuditHandler != nil {
				g.Route("/audit", params.AuditHandler.MountRoutes)
			}
			if params.JobsHandler != nil {
				g.Route("/jobs", params.JobsHandler.MountRoutes)
			}
		})
	})

	return r
}
