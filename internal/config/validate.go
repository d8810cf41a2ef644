package config

import "fmt"

// Validate checks the configuration for internal consistency. It returns the
// first problem found; fixing configs one error at a time beats a wall of
// messages on startup.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateServer,
		c.validateDatabase,
		c.validateStorage,
		c.validateUpload,
		c.validateOIDC,
		c.validateTLS,
		c.validateLogging,
		c.validateAudit,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required when using the sqlite driver")
		}
	case "postgres":
		for _, field := range []struct{ key, value string }{
			{"database.host", c.Database.Host},
			{"database.name", c.Database.Name},
			{"database.user", c.Database.User},
		} {
			if field.value == "" {
				return fmt.Errorf("%s is required when using the postgres driver", field.key)
			}
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or postgres)", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.DefaultBackend {
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "azure":
		if c.Storage.Azure.AccountName == "" {
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		}
		if c.Storage.Azure.AccountKey == "" {
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		}
		if c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", c.Storage.DefaultBackend)
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxSizeBytes <= 0 {
		return fmt.Errorf("upload.max_size_bytes must be positive, got %d", c.Upload.MaxSizeBytes)
	}
	if c.Upload.RequireSignature && c.Upload.TrustedKeysFile == "" {
		return fmt.Errorf("upload.trusted_keys_file is required when upload.require_signature is set")
	}
	return nil
}

func (c *Config) validateOIDC() error {
	if !c.Auth.OIDC.Enabled {
		return nil
	}
	if c.Auth.OIDC.IssuerURL == "" {
		return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
	}
	if c.Auth.OIDC.Audience == "" {
		return fmt.Errorf("auth.oidc.audience is required when OIDC is enabled")
	}
	for i, p := range c.Auth.OIDC.Publishers {
		if p.Subject == "" || p.Username == "" {
			return fmt.Errorf("auth.oidc.publishers[%d] must set both subject and username", i)
		}
	}
	return nil
}

func (c *Config) validateTLS() error {
	if !c.Security.TLS.Enabled {
		return nil
	}
	if c.Security.TLS.CertFile == "" {
		return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
	}
	if c.Security.TLS.KeyFile == "" {
		return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	for i, s := range c.Audit.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d].webhook.url is required for webhook shippers", i)
			}
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d].file.path is required for file shippers", i)
			}
		default:
			return fmt.Errorf("invalid audit shipper type: %s (must be webhook or file)", s.Type)
		}
	}
	return nil
}
