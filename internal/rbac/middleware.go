package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pawdesk/pawdesk/internal/assignments"
	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/platform/httpx"
	"github.com/pawdesk/pawdesk/internal/roles"
)

// TokenVerifier verifies bearer tokens against the identity provider.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (identity.VerifiedToken, error)
}

// AssignmentReader reads the current assignment for a user.
type AssignmentReader interface {
	Get(ctx context.Context, userID string) (assignments.Assignment, error)
}

// RoleDefaults resolves a role's default permission set, used to fill claims
// from older tokens that predate the permissions claim.
type RoleDefaults interface {
	Permissions(ctx context.Context, name string) ([]string, error)
}

// Middleware wires authorization checks for HTTP handlers.
type Middleware struct {
	Verifier    TokenVerifier
	Assignments AssignmentReader
	Roles       RoleDefaults
	Logger      *slog.Logger
}

// Authenticate resolves the caller from the Authorization header and stores
// the principal in the request context. Claims older than the store's last
// write are not trusted; the store wins and the permissions are re-derived.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		verified, err := m.Verifier.VerifyToken(r.Context(), token)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Debug("token verification failed", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}
		principal, err := m.resolvePrincipal(r.Context(), verified)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("resolve principal", slog.String("uid", verified.UID), slog.Any("error", err))
			}
			httpx.RespondStorageError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// resolvePrincipal merges verified claims with the assignment store. Fresh
// claims are used as-is; stale claims are replaced by the store's resolved
// set. Tokens without a permissions claim fall back to the role's catalog
// defaults, never to the wildcard.
func (m Middleware) resolvePrincipal(ctx context.Context, verified identity.VerifiedToken) (Principal, error) {
	current, err := m.Assignments.Get(ctx, verified.UID)
	if err != nil {
		return Principal{}, err
	}

	claims := verified.Claims
	freshness := claims.FreshnessAgainst(current.UpdatedAt)
	if freshness == identity.StalePendingRefresh {
		return Principal{
			UID:         verified.UID,
			Email:       verified.Email,
			Role:        current.Role,
			Permissions: current.Permissions,
			Freshness:   identity.StalePendingRefresh,
		}, nil
	}

	if claims.Role == "" || claims.Permissions == nil {
		role := claims.Role
		if role == "" {
			role = current.Role
		}
		defaults, err := m.Roles.Permissions(ctx, role)
		if err != nil {
			if !errors.Is(err, roles.ErrNotFound) {
				return Principal{}, err
			}
			defaults = nil
		}
		claims = claims.WithDefaults(role, defaults)
	}
	return Principal{
		UID:         verified.UID,
		Email:       verified.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		Freshness:   identity.Fresh,
	}, nil
}

// RequireRole rejects callers whose role is outside allowed. The super-admin
// bypass applies; the restricted-endpoint denylist must be mounted before
// this check.
func (m Middleware) RequireRole(allowed ...string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[strings.TrimSpace(strings.ToLower(role))] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized", "")
				return
			}
			if IsSuperAdmin(principal.Role) {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowedSet[principal.Role]; ok {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, httpx.CodeInsufficientRole, "Forbidden",
				"role "+principal.Role+" is not allowed here")
		})
	}
}

// RequirePermission rejects callers missing the permission. The super-admin
// bypass applies first.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized", "")
				return
			}
			if IsSuperAdmin(principal.Role) {
				next.ServeHTTP(w, r)
				return
			}
			if principal.HasPermission(perm) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, httpx.CodeInsufficientPermission, "Forbidden",
				"missing permission "+perm)
		})
	}
}

// RestrictedForManagers blocks the user/role management surface for every
// non-admin role. This check runs before any role or permission check so a
// manager's broad grants can never fall through to an incorrect allow. A
// manager is rejected with the dedicated manager_restricted code; any other
// non-admin role gets the generic insufficient-role rejection.
func (m Middleware) RestrictedForManagers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized", "")
			return
		}
		if IsSuperAdmin(principal.Role) {
			next.ServeHTTP(w, r)
			return
		}
		if principal.Role == roles.RoleManager {
			httpx.Problem(w, http.StatusForbidden, httpx.CodeManagerRestricted, "Forbidden",
				"managers cannot access user and role management")
			return
		}
		httpx.Problem(w, http.StatusForbidden, httpx.CodeInsufficientRole, "Forbidden",
			"role "+principal.Role+" is not allowed here")
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
