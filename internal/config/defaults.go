package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Cache defaults
	cfg.Cache.MaxSize = 1000

	// Embedding defaults
	cfg.Embedding.Dimension = 256

	// Validator defaults
	cfg.Validator.SchemaPatterns = map[string]string{}

	// Subscription defaults
	cfg.Subscription.QueueSize = 256

	// EventBus defaults
	cfg.EventBus.QueueSize = 256

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Audit defaults
	cfg.Audit.AuditLogPath = "logs/audit.log"
	cfg.Audit.AppLogPath = "logs/app.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 30
	cfg.Audit.Compress = true

	return cfg
}
