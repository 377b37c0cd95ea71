package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/service"
	"github.com/prn-tf/blog-accounts/internal/social"
)

// langKeyCookie holds the language selected in the web client.
const langKeyCookie = "NG_TRANSLATE_LANG_KEY"

// SocialHandler serves the OAuth sign-in redirect and callback.
type SocialHandler struct {
	social    *service.SocialService
	providers *social.Registry
	states    *social.StateStore
	logger    zerolog.Logger
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(
	socialService *service.SocialService,
	providers *social.Registry,
	states *social.StateStore,
	logger zerolog.Logger,
) *SocialHandler {
	return &SocialHandler{
		social:    socialService,
		providers: providers,
		states:    states,
		logger:    logger.With().Str("handler", "social").Logger(),
	}
}

// RegisterRoutes registers social routes on r.
func (h *SocialHandler) RegisterRoutes(r chi.Router) {
	r.Get("/signin/{provider}", h.handleSignIn)
	r.Post("/signin/{provider}", h.handleSignIn)
	r.Get("/signup/{provider}/callback", h.handleCallback)
}

func (h *SocialHandler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	provider, err := h.providers.Get(providerID)
	if err != nil {
		h.logger.Debug().Str("provider", providerID).Msg("sign-in requested for unknown provider")
		h.redirectFailure(w, r)
		return
	}

	state, err := h.states.Issue(r.Context(), provider.ID())
	if err != nil {
		h.logger.Error().Err(err).Str("provider", providerID).Msg("failed to issue oauth state")
		h.redirectFailure(w, r)
		return
	}
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

func (h *SocialHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	q := r.URL.Query()
	logger := h.logger.With().Str("provider", providerID).Logger()

	if reason := q.Get("error"); reason != "" {
		logger.Info().Str("error", reason).Msg("provider denied the sign-in")
		h.redirectFailure(w, r)
		return
	}

	provider, err := h.providers.Get(providerID)
	if err != nil {
		logger.Debug().Msg("callback for unknown provider")
		h.redirectFailure(w, r)
		return
	}
	if err := h.states.Consume(r.Context(), q.Get("state"), provider.ID()); err != nil {
		logger.Warn().Err(err).Msg("rejected oauth callback state")
		h.redirectFailure(w, r)
		return
	}

	conn, err := provider.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		logger.Warn().Err(err).Msg("oauth exchange failed")
		h.redirectFailure(w, r)
		return
	}

	if _, err := h.social.Reconcile(r.Context(), conn, langKey(r)); err != nil {
		logger.Error().Err(err).Msg("exception creating social user")
		h.redirectFailure(w, r)
		return
	}

	http.Redirect(w, r, "/#/social-register/"+url.PathEscape(provider.ID())+"?success=true", http.StatusFound)
}

func (h *SocialHandler) redirectFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/#/social-register/no-provider?success=false", http.StatusFound)
}

// langKey reads the client language cookie, which the client stores JSON-quoted.
func langKey(r *http.Request) string {
	c, err := r.Cookie(langKeyCookie)
	if err != nil {
		return domain.DefaultLangKey
	}
	value, err := url.QueryUnescape(c.Value)
	if err != nil {
		value = c.Value
	}
	value = strings.Trim(value, `"`)
	if value == "" {
		return domain.DefaultLangKey
	}
	return value
}
