package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/prn-tf/blog-accounts/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// Kind names a mail template.
type Kind string

const (
	KindActivation         Kind = "activation"
	KindCreation           Kind = "creation"
	KindPasswordReset      Kind = "password_reset"
	KindSocialRegistration Kind = "social_registration"
)

var subjects = map[Kind]string{
	KindActivation:         "blog account activation",
	KindCreation:           "blog account activation",
	KindPasswordReset:      "blog password reset",
	KindSocialRegistration: "blog social registration",
}

// Renderer turns an account and a template kind into a Message.
type Renderer struct {
	baseURL   string
	templates map[Kind]*template.Template
}

// NewRenderer parses the embedded templates. Links are built on baseURL.
func NewRenderer(baseURL string) (*Renderer, error) {
	r := &Renderer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		templates: make(map[Kind]*template.Template, len(subjects)),
	}

	for kind := range subjects {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+string(kind)+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		r.templates[kind] = t
	}
	return r, nil
}

// templateData is what every template sees.
type templateData struct {
	Subject  string
	Name     string
	Login    string
	Link     string
	Provider string
}

// Render builds the message of the given kind for account.
// provider is only used by the social registration mail.
func (r *Renderer) Render(kind Kind, account *domain.Account, provider string) (Message, error) {
	t, ok := r.templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown mail template %q", kind)
	}

	data := templateData{
		Subject:  subjects[kind],
		Name:     displayName(account),
		Login:    account.Login,
		Provider: provider,
	}
	switch kind {
	case KindActivation:
		data.Link = r.link("/#/activate", account.ActivationKey)
	case KindCreation, KindPasswordReset:
		data.Link = r.link("/#/reset/finish", account.ResetKey)
	}

	var body bytes.Buffer
	if err := t.ExecuteTemplate(&body, "layout", data); err != nil {
		return Message{}, fmt.Errorf("render %s template: %w", kind, err)
	}

	return Message{
		To:       account.Email,
		Subject:  data.Subject,
		HTMLBody: body.String(),
		Tag:      string(kind),
	}, nil
}

func (r *Renderer) link(path, key string) string {
	return r.baseURL + path + "?key=" + url.QueryEscape(key)
}

func displayName(a *domain.Account) string {
	if name := strings.TrimSpace(a.FirstName + " " + a.LastName); name != "" {
		return name
	}
	return a.Login
}
