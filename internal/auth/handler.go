// Package auth exposes the email/password login endpoint backed by the
// local identity provider.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/identity/localidp"
	"github.com/pawdesk/pawdesk/internal/platform/httpx"
)

// Authenticator exchanges credentials for a signed access token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// Handler serves authentication requests.
type Handler struct {
	logger   *slog.Logger
	idp      Authenticator
	validate *validator.Validate
}

// NewHandler builds an auth handler.
func NewHandler(logger *slog.Logger, idp Authenticator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, idp: idp, validate: validator.New()}
}

// MountRoutes registers auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, httpx.CodeValidation, "Validation Failed", err.Error())
		return
	}

	token, err := h.idp.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, localidp.ErrInvalidCredentials):
			httpx.Problem(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized", "invalid email or password")
		case errors.Is(err, identity.ErrProviderUnavailable):
			httpx.Problem(w, http.StatusBadGateway, httpx.CodeIdentityProvider, "Identity Provider Error", "login is temporarily unavailable")
		default:
			h.logger.Error("login failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, httpx.CodeInternal, "Internal Error", "")
		}
		return
	}

	httpx.JSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "Bearer"})
}
