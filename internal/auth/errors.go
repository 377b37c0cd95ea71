package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	// ErrEmptyToken indicates no token was supplied.
	ErrEmptyToken = errors.New("token is empty")

	// ErrUnsupportedAlgorithm indicates the token is signed with anything but HS512.
	ErrUnsupportedAlgorithm = errors.New("token signing algorithm is not supported")

	// ErrMissingSubject indicates a verified token without a subject.
	ErrMissingSubject = errors.New("token has no subject")

	// ErrUnauthenticated indicates the request carries no valid principal.
	ErrUnauthenticated = errors.New("full authentication is required to access this resource")

	// ErrAccessDenied indicates the principal lacks a required authority.
	ErrAccessDenied = errors.New("access is denied")
)

// failureReason maps a parse error to its log and metrics category.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyToken):
		return ReasonInvalidArgument
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, ErrUnsupportedAlgorithm), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonUnsupported
	default:
		return ReasonInvalidArgument
	}
}
