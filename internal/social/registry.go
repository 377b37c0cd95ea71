package social

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/prn-tf/blog-accounts/internal/config"
	"github.com/prn-tf/blog-accounts/internal/domain"
)

// Registry holds the configured providers by id.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a provider for every entry of cfg.Providers. Providers
// other than google must configure their auth, token and userinfo URLs.
func NewRegistry(cfg config.SocialConfig, client *http.Client) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(cfg.Providers))}

	for id, pc := range cfg.Providers {
		id = strings.ToLower(id)
		if pc.ClientID == "" {
			return nil, fmt.Errorf("social provider %q: client_id is required", id)
		}

		if id == ProviderGoogle {
			r.Register(NewGoogleProvider(pc, client))
			continue
		}
		if pc.AuthURL == "" || pc.TokenURL == "" || pc.UserInfoURL == "" {
			return nil, fmt.Errorf("social provider %q: auth_url, token_url and user_info_url are required", id)
		}
		r.Register(NewGenericProvider(id, pc, client))
	}
	return r, nil
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[strings.ToLower(p.ID())] = p
}

// Get returns the provider for id.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(id)]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrUnknownProvider, "", id)
	}
	return p, nil
}

// IDs returns the configured provider ids in order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
