// Package audit emits structured records for security-relevant registry
// events: distribution uploads and yanks, token issuance and revocation, and
// user administration. The records are kept apart from application logs on
// purpose — application logs are debug output with short retention, audit
// records are evidence with retention measured in years and their own
// consumers (security review, compliance export). The database table is the
// source of truth; a Shipper additionally copies each record to external
// destinations (JSONL file, webhook) so a SIEM can ingest the trail without
// touching the registry database.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LogEntry is the wire form of one audit record, as shipped to external
// destinations. Identity fields are empty for anonymous requests.
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	Username     string                 `json:"username,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	AuthMethod   string                 `json:"auth_method,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	StatusCode   int                    `json:"status_code,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper delivers audit records to one destination.
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// ShipperConfig selects and configures one shipping destination. Exactly one
// of the type-specific sections is consulted, chosen by Type.
type ShipperConfig struct {
	Enabled bool   `json:"enabled"`
	Type    string `json:"type"` // "webhook" or "file"

	Webhook *WebhookConfig `json:"webhook,omitempty"`
	File    *FileConfig    `json:"file,omitempty"`
}

// WebhookConfig configures HTTP delivery of audit records.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout"`

	// BatchSize > 0 switches to batched delivery: records queue until the
	// batch fills or FlushInterval elapses, then post as a JSON array.
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// FileConfig configures JSONL delivery of audit records to a local file.
type FileConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"` // rotate above this size; 0 disables rotation
	MaxBackups int    `json:"max_backups"` // rotated files kept as path.1 .. path.N
}

// MultiShipper fans each record out to every configured destination. The
// destination list is fixed at construction, so Ship and Close need no
// locking.
type MultiShipper struct {
	shippers []Shipper
}

// NewMultiShipper builds the configured destinations, skipping disabled
// entries. A config naming a type without its section, or an unknown type,
// is an error rather than a silently dropped destination.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		shipper, err := newShipper(cfg)
		if err != nil {
			return nil, err
		}
		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

func newShipper(cfg ShipperConfig) (Shipper, error) {
	switch cfg.Type {
	case "webhook":
		if cfg.Webhook == nil {
			return nil, fmt.Errorf("webhook config is required for webhook shipper")
		}
		return NewWebhookShipper(cfg.Webhook)
	case "file":
		if cfg.File == nil {
			return nil, fmt.Errorf("file config is required for file shipper")
		}
		return NewFileShipper(cfg.File)
	default:
		return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
	}
}

// Ship delivers the record to every destination. A failing destination is
// logged and must not starve the others, so delivery always continues; the
// last error is returned for the caller's accounting.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			slog.Error("audit shipper error", "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Close closes every destination, flushing whatever they hold.
func (ms *MultiShipper) Close() error {
	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
