package domain

import "time"

// Audit event types.
const (
	AuditAuthenticationSuccess = "AUTHENTICATION_SUCCESS"
	AuditAuthenticationFailure = "AUTHENTICATION_FAILURE"
	AuditAuthorizationFailure  = "AUTHORIZATION_FAILURE"
)

// AuditEvent is a persisted security event.
type AuditEvent struct {
	ID        int64             `json:"id"`
	Principal string            `json:"principal"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// Persistable reports whether the event should be stored.
// Authorization failures and anonymous principals are dropped.
func (e *AuditEvent) Persistable() bool {
	return e.Type != AuditAuthorizationFailure && e.Principal != AnonymousUser
}
