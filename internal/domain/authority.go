package domain

// Role names. Seeded by migration and never modified at runtime.
const (
	RoleAdmin     = "ROLE_ADMIN"
	RoleUser      = "ROLE_USER"
	RoleAnonymous = "ROLE_ANONYMOUS"
)

var knownAuthorities = map[string]bool{
	RoleAdmin:     true,
	RoleUser:      true,
	RoleAnonymous: true,
}

// IsKnownAuthority reports whether name belongs to the fixed vocabulary.
func IsKnownAuthority(name string) bool {
	return knownAuthorities[name]
}

// ValidateAuthorities rejects any name outside the vocabulary.
func ValidateAuthorities(names []string) error {
	for _, n := range names {
		if !IsKnownAuthority(n) {
			return NewDomainError(ErrUnknownAuthority, "", n)
		}
	}
	return nil
}
