// Package config loads and validates the registry configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the PYPI_ prefix (e.g., PYPI_DATABASE_PATH
// overrides database.path in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Index     IndexConfig     `mapstructure:"index"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Audit     AuditConfig     `mapstructure:"audit"`

	v *viper.Viper
}

// Load reads configuration from the given file (or the default search path
// when empty), applies PYPI_-prefixed environment overrides, and validates
// the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pypi-registry")
	}

	// A missing file is fine: defaults plus environment variables form a
	// complete configuration. Any other read error is real.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("PYPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Secrets may be written as ${VAR} in the YAML so the file itself can be
	// committed without them.
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = os.ExpandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = os.ExpandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = os.ExpandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Auth.JWT.Secret = os.ExpandEnv(cfg.Auth.JWT.Secret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.v = v
	return &cfg, nil
}

// OnChange watches the loaded config file and invokes fn with a freshly
// parsed configuration each time it changes on disk. Reloads that fail to
// parse or validate are logged and skipped, keeping the last good
// configuration active. No-op when no config file was loaded.
func (c *Config) OnChange(fn func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := c.v.Unmarshal(&next); err != nil {
			slog.Warn("config reload failed, keeping previous configuration",
				"file", e.Name, "error", err)
			return
		}
		if err := next.Validate(); err != nil {
			slog.Warn("config reload produced invalid configuration, keeping previous",
				"file", e.Name, "error", err)
			return
		}
		next.v = c.v
		fn(&next)
	})
	c.v.WatchConfig()
}

// defaults are the built-in values for every key that has one. Keys absent
// here default to their zero value.
var defaults = map[string]any{
	"server.host":          "0.0.0.0",
	"server.port":          8080,
	"server.base_url":      "http://localhost:8080",
	"server.public_url":    "",
	"server.read_timeout":  "30s",
	"server.write_timeout": "30s",

	"database.driver":               "sqlite",
	"database.path":                 "./pypi.db",
	"database.host":                 "localhost",
	"database.port":                 5432,
	"database.name":                 "pypi_registry",
	"database.user":                 "registry",
	"database.ssl_mode":             "require",
	"database.max_connections":      25,
	"database.min_idle_connections": 5,

	"storage.default_backend":      "local",
	"storage.local.base_path":      "./storage",
	"storage.local.serve_directly": true,

	"upload.max_size_bytes":    100 * 1024 * 1024,
	"upload.require_signature": false,

	"auth.enabled":            true,
	"auth.bootstrap_admin":    true,
	"auth.tokens.prefix":      "pypi-",
	"auth.tokens.default_ttl": "0",
	"auth.jwt.expiry":         "24h",
	"auth.oidc.enabled":       false,
	"auth.oidc.token_ttl":     "15m",

	"index.rebuild_on_start":   true,
	"index.max_search_results": 100,

	"security.cors.allowed_origins":              []string{"*"},
	"security.cors.allowed_methods":              []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	"security.rate_limiting.enabled":             true,
	"security.rate_limiting.requests_per_minute": 120,
	"security.rate_limiting.burst":               20,
	"security.tls.enabled":                       false,

	"logging.level":  "info",
	"logging.format": "json",
	"logging.output": "stdout",

	"telemetry.enabled":                 true,
	"telemetry.service_name":            "pypi-registry",
	"telemetry.metrics.enabled":         true,
	"telemetry.metrics.prometheus_port": 9090,
	"telemetry.profiling.enabled":       false,
	"telemetry.profiling.port":          6060,

	"jobs.token_sweep_interval":     "1h",
	"jobs.integrity_scrub.enabled":  false,
	"jobs.integrity_scrub.interval": "24h",

	"audit.enabled":             false,
	"audit.log_read_operations": false,
	"audit.log_failed_requests": true,
}

func applyDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// envKeys lists, per section, every key that can be overridden through the
// environment. AutomaticEnv alone is not enough: Unmarshal only considers
// keys viper already knows, so env-only keys stay invisible until explicitly
// bound. Slice-valued keys (lists of shippers, publishers) have no env form
// and are deliberately absent.
var envKeys = map[string][]string{
	"server": {
		"host", "port", "base_url", "public_url", "read_timeout", "write_timeout",
	},
	"database": {
		"driver", "path", "host", "port", "name", "user", "password",
		"ssl_mode", "max_connections", "min_idle_connections",
	},
	"storage": {
		"default_backend",
		"azure.account_name", "azure.account_key", "azure.container_name", "azure.cdn_url",
		"s3.endpoint", "s3.region", "s3.bucket", "s3.auth_method",
		"s3.access_key_id", "s3.secret_access_key",
		"s3.role_arn", "s3.role_session_name", "s3.external_id",
		"s3.web_identity_token_file",
		"gcs.bucket", "gcs.project_id", "gcs.auth_method",
		"gcs.credentials_file", "gcs.credentials_json", "gcs.endpoint",
		"local.base_path", "local.serve_directly",
	},
	"upload": {
		"max_size_bytes", "trusted_keys_file", "require_signature",
	},
	"auth": {
		"enabled", "bootstrap_admin",
		"tokens.prefix", "tokens.default_ttl",
		"jwt.secret", "jwt.expiry",
		"oidc.enabled", "oidc.issuer_url", "oidc.audience", "oidc.token_ttl",
	},
	"index": {
		"rebuild_on_start", "max_search_results",
	},
	"security": {
		"cors.allowed_origins", "cors.allowed_methods",
		"rate_limiting.enabled", "rate_limiting.requests_per_minute", "rate_limiting.burst",
		"tls.enabled", "tls.cert_file", "tls.key_file",
	},
	"logging": {
		"level", "format", "output",
	},
	"telemetry": {
		"enabled", "service_name",
		"metrics.enabled", "metrics.prometheus_port",
		"profiling.enabled", "profiling.port",
	},
	"jobs": {
		"token_sweep_interval", "integrity_scrub.enabled", "integrity_scrub.interval",
	},
	"audit": {
		"enabled", "log_read_operations", "log_failed_requests",
	},
}

func bindEnv(v *viper.Viper) error {
	for section, keys := range envKeys {
		for _, key := range keys {
			if err := v.BindEnv(section + "." + key); err != nil {
				return fmt.Errorf("bind env for %s.%s: %w", section, key, err)
			}
		}
	}
	return nil
}
