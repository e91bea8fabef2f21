package domain

import "time"

// User is the authenticated identity attached to a credential.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Credential is a bearer token plus the identity it was issued for.
type Credential struct {
	Token string `json:"-"`
	User  User   `json:"user"`
	// ExpiresAt is taken from the token's exp claim when present.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the credential carries a usable token.
func (c Credential) Valid() bool {
	return c.Token != ""
}

// Expired reports whether the token's exp claim lies before now. Tokens
// without an exp claim never expire locally.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
