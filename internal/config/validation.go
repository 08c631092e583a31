package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if len(c.Server.AllowedOrigins) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.allowed_origins",
			Message: "allowed_origins must not be empty (use [\"*\"] to allow any origin)",
		})
	}

	// Validate cache configuration
	if c.Cache.MaxSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "cache.max_size",
			Message: fmt.Sprintf("max_size must be at least 1, got %d", c.Cache.MaxSize),
		})
	}

	// Validate embedding configuration
	if c.Embedding.Dimension < 1 {
		errs = append(errs, &ValidationError{
			Field:   "embedding.dimension",
			Message: fmt.Sprintf("dimension must be at least 1, got %d", c.Embedding.Dimension),
		})
	}

	// Validate validator schema patterns reference existing files
	for pattern, path := range c.Validator.SchemaPatterns {
		if path == "" {
			errs = append(errs, &ValidationError{
				Field:   "validator.schema_patterns",
				Message: fmt.Sprintf("schema path for pattern %q must not be empty", pattern),
			})
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "validator.schema_patterns",
				Message: fmt.Sprintf("schema file for pattern %q does not exist: %s", pattern, path),
			})
		}
	}

	// Validate subscription configuration
	if c.Subscription.QueueSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "subscription.queue_size",
			Message: fmt.Sprintf("queue_size must be at least 1, got %d", c.Subscription.QueueSize),
		})
	}

	// Validate event bus configuration
	if c.EventBus.QueueSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "eventbus.queue_size",
			Message: fmt.Sprintf("queue_size must be at least 1, got %d", c.EventBus.QueueSize),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	// Validate audit configuration
	if c.Audit.AuditLogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.audit_log_path",
			Message: "audit_log_path is required",
		})
	}
	if c.Audit.AppLogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.app_log_path",
			Message: "app_log_path is required",
		})
	}
	if c.Audit.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "audit.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Audit.MaxSizeMB),
		})
	}

	return errs
}
