// Package models defines the database model types for the package index.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the auth manager, query logic in the repositories layer.
package models

import "time"

// User represents a registry account
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string // Bcrypt hash of the password
	IsAdmin      bool
	Active       bool       // Deactivated users keep their rows but cannot authenticate
	LastLoginAt  *time.Time // Updated on successful password authentication
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
