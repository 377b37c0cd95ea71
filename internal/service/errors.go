// Package service provides the account, authentication and social sign-in
// business logic of the blog accounts service.
package service

import "errors"

// Common service errors. Domain failures use the sentinels in internal/domain.
var (
	// ErrInternalError wraps infrastructure failures (database, cache, hashing).
	ErrInternalError = errors.New("internal server error")

	// ErrEncryptionFailed indicates social token material could not be sealed.
	ErrEncryptionFailed = errors.New("encryption failed")
)
