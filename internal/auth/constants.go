// Package auth provides stateless bearer-token authentication for the blog accounts service.
// Tokens are compact JWTs signed with HMAC-SHA-512.
package auth

// =============================================================================
// Header Constants
// =============================================================================

const (
	// AuthorizationHeader is the HTTP header carrying the bearer token.
	AuthorizationHeader = "Authorization"

	// BearerPrefix precedes the token in the Authorization header.
	BearerPrefix = "Bearer "
)

// =============================================================================
// Claim Constants
// =============================================================================

const (
	// AuthoritiesClaim holds the comma-joined role names.
	AuthoritiesClaim = "auth"

	// authoritiesSeparator joins role names inside AuthoritiesClaim.
	authoritiesSeparator = ","
)

// =============================================================================
// Validation Failure Reasons
// =============================================================================

// Reasons a token fails validation. They are used as the log "reason" field
// and as the metrics result label.
const (
	ReasonInvalidSignature = "invalid_signature"
	ReasonMalformed        = "malformed"
	ReasonExpired          = "expired"
	ReasonUnsupported      = "unsupported"
	ReasonInvalidArgument  = "invalid_argument"
)
