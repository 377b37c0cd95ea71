package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/auth"
	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/service"
)

// UserHandler serves user administration.
type UserHandler struct {
	users  *service.UserService
	logger zerolog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *service.UserService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger.With().Str("handler", "user").Logger(),
	}
}

type managedUserRequest struct {
	ID          int64    `json:"id"`
	Login       string   `json:"login" validate:"required,login,max=100"`
	FirstName   string   `json:"firstName" validate:"max=50"`
	LastName    string   `json:"lastName" validate:"max=50"`
	Email       string   `json:"email" validate:"omitempty,email,min=5,max=100"`
	ImageURL    string   `json:"imageUrl" validate:"max=256"`
	Activated   bool     `json:"activated"`
	LangKey     string   `json:"langKey" validate:"omitempty,min=2,max=5"`
	Authorities []string `json:"authorities" validate:"dive,authority"`
}

func (req *managedUserRequest) input() service.ManagedUserInput {
	return service.ManagedUserInput{
		ID:          req.ID,
		Login:       req.Login,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		ImageURL:    req.ImageURL,
		Activated:   req.Activated,
		LangKey:     req.LangKey,
		Authorities: req.Authorities,
	}
}

// RegisterRoutes registers user administration routes on r.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthenticated)
		r.Get("/users", h.handleList)
		r.Get("/users/{login}", h.handleGet)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthority(domain.RoleAdmin))
		r.Get("/users/authorities", h.handleAuthorities)
		r.Post("/users", h.handleCreate)
		r.Put("/users", h.handleUpdate)
		r.Delete("/users/{login}", h.handleDelete)
	})
}

func (h *UserHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req managedUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	account, err := h.users.CreateUser(r.Context(), auth.CurrentLogin(r.Context()), req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+account.Login)
	writeAlert(w, "userManagement.created", account.Login)
	writeJSON(w, http.StatusCreated, account)
}

func (h *UserHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req managedUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	account, err := h.users.UpdateUser(r.Context(), auth.CurrentLogin(r.Context()), req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeAlert(w, "userManagement.updated", account.Login)
	writeJSON(w, http.StatusOK, account)
}

func (h *UserHandler) handleList(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	result, err := h.users.ListUsers(r.Context(), page.listOptions())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items := result.Items
	if items == nil {
		items = []*domain.Account{}
	}
	writePaginationHeaders(w, r, page, result.Total)
	writeJSON(w, http.StatusOK, items)
}

func (h *UserHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")
	account, found, err := h.users.GetUser(r.Context(), login)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, domain.NewDomainError(domain.ErrAccountNotFound, "", login))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *UserHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")
	if err := h.users.DeleteUser(r.Context(), auth.CurrentLogin(r.Context()), login); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeAlert(w, "userManagement.deleted", login)
	w.WriteHeader(http.StatusOK)
}

func (h *UserHandler) handleAuthorities(w http.ResponseWriter, r *http.Request) {
	names, err := h.users.ListAuthorities(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}
