package handler

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/auth"
	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/service"
)

// AccountHandler serves the self-service account endpoints.
type AccountHandler struct {
	accounts      *service.AccountService
	authenticator *service.Authenticator
	social        *service.SocialService
	logger        zerolog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(
	accounts *service.AccountService,
	authenticator *service.Authenticator,
	social *service.SocialService,
	logger zerolog.Logger,
) *AccountHandler {
	return &AccountHandler{
		accounts:      accounts,
		authenticator: authenticator,
		social:        social,
		logger:        logger.With().Str("handler", "account").Logger(),
	}
}

// =============================================================================
// Request Types
// =============================================================================

type registerRequest struct {
	Login     string `json:"login" validate:"required,login,max=100"`
	Password  string `json:"password"`
	FirstName string `json:"firstName" validate:"max=50"`
	LastName  string `json:"lastName" validate:"max=50"`
	Email     string `json:"email" validate:"omitempty,email,min=5,max=100"`
	ImageURL  string `json:"imageUrl" validate:"max=256"`
	LangKey   string `json:"langKey" validate:"omitempty,min=2,max=5"`
}

type profileRequest struct {
	FirstName string `json:"firstName" validate:"max=50"`
	LastName  string `json:"lastName" validate:"max=50"`
	Email     string `json:"email" validate:"omitempty,email,min=5,max=100"`
	ImageURL  string `json:"imageUrl" validate:"max=256"`
	LangKey   string `json:"langKey" validate:"omitempty,min=2,max=5"`
}

type loginRequest struct {
	Username   string `json:"username" validate:"required,min=1,max=50"`
	Password   string `json:"password" validate:"required,min=4,max=100"`
	RememberMe bool   `json:"rememberMe"`
}

type keyAndPasswordRequest struct {
	Key         string `json:"key" validate:"required"`
	NewPassword string `json:"newPassword"`
}

type tokenResponse struct {
	IDToken string `json:"id_token"`
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers account routes on r.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Get("/activate", h.handleActivate)
	r.Get("/authenticate", h.handleIsAuthenticated)
	r.Post("/authenticate", h.handleAuthenticate)
	r.Post("/account/reset-password/init", h.handleResetInit)
	r.Post("/account/reset-password/finish", h.handleResetFinish)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthenticated)
		r.Get("/account", h.handleGetAccount)
		r.Post("/account", h.handleSaveAccount)
		r.Delete("/account", h.handleDeleteAccount)
		r.Post("/account/change-password", h.handleChangePassword)
		r.Get("/account/connections", h.handleListConnections)
		r.Delete("/account/connections/{provider}", h.handleUnlinkProvider)
	})
}

// =============================================================================
// Registration
// =============================================================================

func (h *AccountHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	_, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Login:     req.Login,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		ImageURL:  req.ImageURL,
		LangKey:   req.LangKey,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *AccountHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	_, found, err := h.accounts.Activate(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, domain.ErrUnknownActivationKey)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// =============================================================================
// Authentication
// =============================================================================

// handleIsAuthenticated returns the login of the caller, or an empty body.
func (h *AccountHandler) handleIsAuthenticated(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug().Msg("REST request to check if the current user is authenticated")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(auth.CurrentLogin(r.Context())))
}

func (h *AccountHandler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	token, _, err := h.authenticator.Authenticate(r.Context(), service.Credentials{
		Login:         req.Username,
		Password:      req.Password,
		RememberMe:    req.RememberMe,
		RemoteAddress: remoteAddress(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"AuthenticationException": "Bad credentials"})
		case errors.Is(err, domain.ErrAccountNotActivated):
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"AuthenticationException": "User " + domain.NormalizeLogin(req.Username) + " was not activated",
			})
		default:
			writeError(w, r, h.logger, err)
		}
		return
	}

	w.Header().Set(auth.AuthorizationHeader, auth.BearerPrefix+token)
	writeJSON(w, http.StatusOK, tokenResponse{IDToken: token})
}

// remoteAddress returns the client IP without the port.
func remoteAddress(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// =============================================================================
// Current Account
// =============================================================================

func (h *AccountHandler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	login := auth.CurrentLogin(r.Context())
	account, found, err := h.accounts.GetAccount(r.Context(), login)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		// A valid token for a removed account is a server-side inconsistency.
		h.logger.Error().Str("login", login).Msg("authenticated principal has no account")
		writeProblem(w, r, http.StatusInternalServerError, httpMessage(http.StatusInternalServerError), "")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) handleSaveAccount(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	login := auth.CurrentLogin(r.Context())
	_, err := h.accounts.UpdateProfile(r.Context(), login, service.ProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		LangKey:   req.LangKey,
		ImageURL:  req.ImageURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			h.logger.Error().Str("login", login).Msg("authenticated principal has no account")
			writeProblem(w, r, http.StatusInternalServerError, httpMessage(http.StatusInternalServerError), "")
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *AccountHandler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context(), auth.CurrentLogin(r.Context())); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *AccountHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	password, err := readText(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), auth.CurrentLogin(r.Context()), password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// =============================================================================
// Password Reset
// =============================================================================

func (h *AccountHandler) handleResetInit(w http.ResponseWriter, r *http.Request) {
	email, err := readText(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	_, found, err := h.accounts.RequestPasswordReset(r.Context(), strings.TrimSpace(email))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, domain.ErrNoSuchActivatedAccount)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("email was sent"))
}

func (h *AccountHandler) handleResetFinish(w http.ResponseWriter, r *http.Request) {
	var req keyAndPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	_, found, err := h.accounts.CompletePasswordReset(r.Context(), req.Key, req.NewPassword)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, domain.ErrExpiredOrUnknownResetKey)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// =============================================================================
// Social Connections
// =============================================================================

func (h *AccountHandler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.social.Connections(r.Context(), auth.CurrentLogin(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if conns == nil {
		conns = []*domain.SocialConnection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func (h *AccountHandler) handleUnlinkProvider(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	removed, err := h.social.Unlink(r.Context(), auth.CurrentLogin(r.Context()), provider)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if removed == 0 {
		writeError(w, r, h.logger, domain.NewDomainError(domain.ErrConnectionNotFound, "", provider))
		return
	}
	w.WriteHeader(http.StatusOK)
}
