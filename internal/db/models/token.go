// token.go defines the Token model for upload tokens. The raw token value is
// never stored — only its bcrypt hash and a short prefix used to narrow lookups.
package models

import "time"

// Token represents an upload token issued to a user
type Token struct {
	ID          string
	UserID      string
	Name        string     // Friendly name (e.g., "CI publish token")
	TokenPrefix string     // First chars of the raw value for indexed lookup and display
	TokenHash   string     // Bcrypt hash of the full raw token
	ExpiresAt   *time.Time // Optional expiration
	LastUsedAt  *time.Time // Track last usage
	CreatedAt   time.Time
}

// IsExpired returns true when the token carries an expiry in the past.
// Tokens without an expiry never expire.
func (t *Token) IsExpired() bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now())
}
