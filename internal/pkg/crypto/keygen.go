// Package crypto provides cryptographic utilities for the blog accounts service.
package crypto

import (
	"crypto/rand"
	"fmt"
)

// Character sets for key generation
const (
	// digitChars is used for activation and reset keys.
	digitChars = "0123456789"

	// alphanumericChars is used for generated passwords.
	alphanumericChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

const (
	// KeyLength is the length of activation and reset keys.
	KeyLength = 20

	// GeneratedPasswordLength is the length of passwords issued for
	// provider-created and admin-created accounts.
	GeneratedPasswordLength = 20
)

// GenerateActivationKey generates a random 20-digit activation key.
func GenerateActivationKey() (string, error) {
	return generateRandomString(KeyLength, digitChars)
}

// GenerateResetKey generates a random 20-digit password reset key.
func GenerateResetKey() (string, error) {
	return generateRandomString(KeyLength, digitChars)
}

// GeneratePassword generates a random 20-character alphanumeric password.
func GeneratePassword() (string, error) {
	return generateRandomString(GeneratedPasswordLength, alphanumericChars)
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set. Bytes at or above the
// largest multiple of the charset size are discarded so every character is
// equally likely.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, 0, length)
	charsetLen := len(charset)
	limit := 256 - 256%charsetLen

	buf := make([]byte, length)
	for len(result) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			result = append(result, charset[int(b)%charsetLen])
			if len(result) == length {
				break
			}
		}
	}

	return string(result), nil
}
