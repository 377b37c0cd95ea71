package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/auth"
	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/social"
	"github.com/prn-tf/blog-accounts/internal/validation"
)

// Problem message keys understood by the web client.
const (
	msgValidation        = "error.validation"
	msgLoginExists       = "error.userexists"
	msgEmailExists       = "error.emailexists"
	msgIDExists          = "error.idexists"
	msgUnknownActivation = "error.activation.unknownKey"
	msgInvalidResetKey   = "error.reset.invalidKey"
	msgEmailNotFound     = "error.email.notfound"
)

// incorrectPassword is the plain-text body returned for a password of the wrong length.
const incorrectPassword = "Incorrect password"

// Problem is an RFC7807 problem document.
type Problem struct {
	Type        string                  `json:"type"`
	Title       string                  `json:"title"`
	Status      int                     `json:"status"`
	Detail      string                  `json:"detail,omitempty"`
	Path        string                  `json:"path"`
	Message     string                  `json:"message"`
	FieldErrors []validation.FieldError `json:"fieldErrors,omitempty"`
}

// writeProblem writes a problem document with the given status.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, message, detail string) {
	writeProblemDocument(w, &Problem{
		Type:    auth.ProblemType,
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  detail,
		Path:    r.URL.Path,
		Message: message,
	})
}

func writeProblemDocument(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// httpMessage returns the generic message key for status.
func httpMessage(status int) string {
	return "error.http." + strconv.Itoa(status)
}

// writeError maps err to a problem response.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		writeProblemDocument(w, &Problem{
			Type:        auth.ProblemType,
			Title:       "Method argument not valid",
			Status:      http.StatusBadRequest,
			Path:        r.URL.Path,
			Message:     msgValidation,
			FieldErrors: validationErr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidPassword):
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(incorrectPassword))

	case errors.Is(err, domain.ErrLoginAlreadyUsed):
		writeProblem(w, r, http.StatusBadRequest, msgLoginExists, "Login already in use")
	case errors.Is(err, domain.ErrEmailAlreadyUsed):
		writeProblem(w, r, http.StatusBadRequest, msgEmailExists, "Email already in use")
	case errors.Is(err, domain.ErrIDNotAllowed):
		writeProblem(w, r, http.StatusBadRequest, msgIDExists, err.Error())
	case errors.Is(err, domain.ErrInvalidLogin),
		errors.Is(err, domain.ErrUnknownAuthority):
		writeProblem(w, r, http.StatusBadRequest, msgValidation, err.Error())

	case errors.Is(err, domain.ErrUnknownActivationKey):
		writeProblem(w, r, http.StatusNotFound, msgUnknownActivation, "No user was found for this activation key")
	case errors.Is(err, domain.ErrExpiredOrUnknownResetKey):
		writeProblem(w, r, http.StatusBadRequest, msgInvalidResetKey, "No user was found for this reset key")
	case errors.Is(err, domain.ErrNoSuchActivatedAccount):
		writeProblem(w, r, http.StatusBadRequest, msgEmailNotFound, "Email address not registered")

	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrAuditEventNotFound),
		errors.Is(err, domain.ErrConnectionNotFound),
		errors.Is(err, domain.ErrUnknownProvider):
		writeProblem(w, r, http.StatusNotFound, httpMessage(http.StatusNotFound), err.Error())

	case errors.Is(err, social.ErrInvalidState),
		errors.Is(err, domain.ErrNullConnection),
		errors.Is(err, domain.ErrMissingIdentity),
		errors.Is(err, domain.ErrAmbiguousLogin):
		writeProblem(w, r, http.StatusBadRequest, httpMessage(http.StatusBadRequest), err.Error())

	default:
		logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeProblem(w, r, http.StatusInternalServerError, httpMessage(http.StatusInternalServerError), "")
	}
}
