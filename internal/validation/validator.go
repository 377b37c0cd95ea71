// Package validation validates request payloads with struct tags.
//
//	type registerRequest struct {
//	    Login string `json:"login" validate:"required,login,max=100"`
//	    Email string `json:"email" validate:"required,email,min=5,max=100"`
//	}
//	err := validation.Validate(req)
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/prn-tf/blog-accounts/internal/domain"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// ErrValidation is the sentinel every *Error unwraps to.
var ErrValidation = errors.New("validation failed")

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries every rejected field of a payload.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	return ErrValidation
}

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Use json tag names for field names in error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		_ = validate.RegisterValidation("login", func(fl validator.FieldLevel) bool {
			return domain.ValidateLogin(fl.Field().String()) == nil
		})
		_ = validate.RegisterValidation("authority", func(fl validator.FieldLevel) bool {
			return domain.IsKnownAuthority(fl.Field().String())
		})
	})
	return validate
}

// Validate validates a struct using its `validate` tags.
// It returns *Error when any field is rejected.
func Validate(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &Error{Fields: []FieldError{{Field: "request", Message: err.Error()}}}
	}

	fields := make([]FieldError, 0, len(validationErrors))
	for _, e := range validationErrors {
		fields = append(fields, FieldError{
			Field:   e.Field(),
			Message: formatValidationError(e),
		})
	}
	return &Error{Fields: fields}
}

// formatValidationError creates a message key in the form the web client
// translates, e.g. "Size" or "Pattern".
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "NotNull"
	case "email":
		return "Email"
	case "min", "max", "len":
		return "Size"
	case "login":
		return "Pattern"
	case "authority":
		return "UnknownAuthority"
	default:
		return "Invalid"
	}
}
