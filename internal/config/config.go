package config

import "context"

// Package config provides configuration management for the knowledge
// repository service.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading (for hot-reloadable settings)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (KNOWLEDGEREPO_* prefix, highest priority)
//   2. YAML config file (default: /etc/knowledgerepo/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// No setting is read from CLI flags; the server's only flag, -config,
// selects the YAML file path.
//
// Main Configuration Sections:
//
//   1. Server
//      - port: Listen port (default 8081)
//      - tls_enabled: Enable TLS
//      - tls_cert_path: Path to certificate
//      - tls_key_path: Path to key
//      - allowed_origins: Origins permitted to open the mobile push WebSocket
//
//   2. Cache
//      - max_size: Maximum number of items held in the bounded LRU cache
//
//   3. Embedding
//      - dimension: Vector dimension produced by the embedding provider
//
//   4. Validator
//      - schema_patterns: topic regular expression -> JSON schema file path
//
//   5. Subscription
//      - queue_size: Per-subscriber bounded notification queue size
//
//   6. EventBus
//      - queue_size: Per-subscriber bounded event-bus queue size
//
//   7. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "text"
//
//   8. Audit
//      - audit_log_path / app_log_path: rotated log destinations
//      - max_size_mb / max_backups / max_age_days / compress: rotation policy
//
// Config struct contains all configuration fields.
type Config struct {
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections against the mobile critical-updates push facet. Use
		// ["*"] to allow any origin (development only). When unset, defaults
		// to ["http://localhost:3000", "http://localhost:5173"]; an explicitly
		// empty list fails validation.
		AllowedOrigins []string
	}

	Cache struct {
		MaxSize int
	}

	Embedding struct {
		Dimension int
	}

	Validator struct {
		// SchemaPatterns maps a topic regular expression to a JSON schema
		// file path. The map carries no order, so when several patterns
		// match one topic, which schema applies is not defined. A topic
		// with no matching pattern is valid by default.
		SchemaPatterns map[string]string
	}

	Subscription struct {
		QueueSize int
	}

	EventBus struct {
		QueueSize int
	}

	Logging struct {
		Level  string
		Format string
	}

	Audit struct {
		AuditLogPath string
		AppLogPath   string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/knowledgerepo/config.yaml")
}
