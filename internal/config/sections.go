package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used in download links and index
// pages. When server.public_url is set it is returned as-is; otherwise it
// falls back to server.base_url. This distinction matters in reverse-proxied
// deployments where the internal listen address (base_url) differs from the
// URL installers reach (public_url).
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration. The registry runs
// against an embedded SQLite file by default; driver "postgres" switches to an
// external server for multi-writer deployments.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file (driver "sqlite")
	Path string `mapstructure:"path"`

	// Connection settings for driver "postgres"
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxConnections     int `mapstructure:"max_connections"`
	MinIdleConnections int `mapstructure:"min_idle_connections"`
}

// GetDSN returns the driver-specific connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		// busy_timeout makes concurrent writers queue instead of failing,
		// WAL allows readers during writes.
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// StorageConfig selects the artifact storage backend and carries the
// per-backend settings. Only the section matching default_backend is used.
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage settings. CDNURL, when set,
// replaces the account endpoint in download URLs handed to installers.
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	CDNURL        string `mapstructure:"cdn_url"`
}

// S3StorageConfig holds settings for S3 and S3-compatible object stores.
//
// AuthMethod picks how credentials are obtained:
//   - "default": the SDK credential chain (env vars, shared config, IAM role)
//   - "static": AccessKeyID and SecretAccessKey from this config
//   - "oidc": a web identity token file, as issued inside EKS or CI jobs
//   - "assume_role": STS AssumeRole into RoleARN, optionally with ExternalID
type S3StorageConfig struct {
	// Endpoint overrides the AWS endpoint for compatible stores such as
	// MinIO; empty means real S3.
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`

	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage settings. AuthMethod is
// "default" (application default credentials), "service_account" (a JSON key,
// via CredentialsFile or inline CredentialsJSON), or "workload_identity".
// Endpoint overrides the API endpoint for emulators.
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage settings. ServeDirectly
// lets the registry stream files itself instead of redirecting.
type LocalStorageConfig struct {
	BasePath      string `mapstructure:"base_path"`
	ServeDirectly bool   `mapstructure:"serve_directly"`
}

// UploadConfig holds distribution upload limits and signature policy
type UploadConfig struct {
	// MaxSizeBytes caps the size of a single uploaded archive
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`

	// TrustedKeysFile is a file of concatenated ASCII-armored GPG public keys.
	// When set, uploaded detached signatures are verified against these keys.
	TrustedKeysFile string `mapstructure:"trusted_keys_file"`

	// RequireSignature rejects uploads that do not carry a GPG signature
	RequireSignature bool `mapstructure:"require_signature"`
}

// AuthConfig holds authentication configuration.
//
// When Enabled is false every request runs as a built-in anonymous
// administrator — intended for air-gapped or single-user deployments only.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// BootstrapAdmin creates an admin/admin account on startup when the users
	// table is empty, so a fresh deployment is immediately usable
	BootstrapAdmin bool `mapstructure:"bootstrap_admin"`

	Tokens APITokenConfig `mapstructure:"tokens"`
	JWT    JWTConfig      `mapstructure:"jwt"`
	OIDC   OIDCConfig     `mapstructure:"oidc"`
}

// APITokenConfig holds long-lived API token configuration
type APITokenConfig struct {
	// Prefix is prepended to generated tokens so secret scanners can
	// recognize them
	Prefix string `mapstructure:"prefix"`

	// DefaultTTL applies when a token is created without an explicit expiry;
	// zero means tokens do not expire by default
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// JWTConfig holds session token configuration
type JWTConfig struct {
	// Secret signs session JWTs; may reference an env var as ${VAR}
	Secret string `mapstructure:"secret"`

	// Expiry is the session token lifetime
	Expiry time.Duration `mapstructure:"expiry"`
}

// OIDCConfig holds trusted-publishing configuration: CI systems exchange
// their OIDC identity tokens for short-lived upload tokens.
type OIDCConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IssuerURL string `mapstructure:"issuer_url"`

	// Audience is the expected "aud" claim of presented identity tokens
	Audience string `mapstructure:"audience"`

	// Publishers binds accepted token subjects to registry accounts; a minted
	// upload token belongs to the bound user. Subjects without a binding are
	// rejected even when the identity token verifies.
	Publishers []PublisherBinding `mapstructure:"publishers"`

	// TokenTTL is the lifetime of minted upload tokens
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// PublisherBinding maps one OIDC token subject to the registry user that
// minted tokens will belong to.
type PublisherBinding struct {
	Subject  string `mapstructure:"subject"`
	Username string `mapstructure:"username"`
}

// IndexConfig holds package index behavior configuration
type IndexConfig struct {
	// RebuildOnStart replays the stored artifacts into a fresh in-memory
	// projection during startup
	RebuildOnStart bool `mapstructure:"rebuild_on_start"`

	// MaxSearchResults caps the number of hits a single search returns
	MaxSearchResults int `mapstructure:"max_search_results"`
}

// SecurityConfig groups the HTTP hardening settings.
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds cross-origin request settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds per-client request rate limits.
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds the TLS listener settings.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds the pprof listener settings.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	// TokenSweepInterval is how often expired API tokens are purged
	TokenSweepInterval time.Duration `mapstructure:"token_sweep_interval"`

	// IntegrityScrub re-hashes stored artifacts against their recorded
	// checksums
	IntegrityScrub IntegrityScrubConfig `mapstructure:"integrity_scrub"`
}

// IntegrityScrubConfig holds artifact integrity scrubbing configuration
type IntegrityScrubConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// AuditConfig holds audit trail configuration. When enabled, every mutating
// request is recorded to the audit_logs table and optionally shipped to
// external destinations.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// LogReadOperations extends recording to GET requests
	LogReadOperations bool `mapstructure:"log_read_operations"`

	// LogFailedRequests records 4xx/5xx responses. On by default so rejected
	// logins and uploads stay visible.
	LogFailedRequests bool `mapstructure:"log_failed_requests"`

	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig configures one external audit destination; Type is
// "webhook" or "file".
type AuditShipperConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`

	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}
