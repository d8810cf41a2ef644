// audit.go defines the AuditLog model for the mutation audit trail. Rows are
// append-only; the db tags exist because the audit repository reads them back
// through sqlx struct scanning rather than hand-written Scan calls.
package models

import "time"

// AuditLog represents one recorded security-relevant event, typically a
// mutating HTTP request such as an upload, a yank, or a token issuance.
type AuditLog struct {
	ID           string    `db:"id"`
	Action       string    `db:"action"`        // Dotted event name, e.g. "package.upload"
	UserID       string    `db:"user_id"`       // Empty for anonymous actions
	Username     string    `db:"username"`      // Captured at event time; survives account deletion
	ResourceType string    `db:"resource_type"` // package, token, user
	ResourceID   string    `db:"resource_id"`   // e.g. "demo/1.0.0" or a token ID
	IPAddress    string    `db:"ip_address"`
	AuthMethod   string    `db:"auth_method"` // token, jwt, anonymous
	RequestID    string    `db:"request_id"`  // Correlates with application log lines
	StatusCode   int       `db:"status_code"`
	Metadata     []byte    `db:"metadata"` // JSON object with event-specific details, may be nil
	CreatedAt    time.Time `db:"created_at"`
}
