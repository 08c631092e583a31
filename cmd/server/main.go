// Package main is the entry point for the knowledge repository server.
//
// Responsibilities:
//   - Load and validate configuration from YAML, environment variables, and CLI flags
//   - Assemble the knowledge Store from its component dependencies (vector
//     storage, embedding provider, validator, cache, subscription engine)
//   - Start the event-bus adapter answering the four correlated request/
//     response event pairs and rebroadcasting store lifecycle events
//   - Start the mobile critical-updates push facet (WebSocket hub)
//   - Serve Prometheus metrics and a liveness endpoint
//   - Implement graceful shutdown with context cancellation
//
// Architecture Flow:
//  1. Event bus (or direct programmatic callers) -> Store.Publish/Update/Delete
//  2. Store commits mutate primary state, indices, vector storage, and cache,
//     then dispatch a lifecycle Event to the subscription engine
//  3. The event-bus adapter and the WebSocket hub are both subscribers:
//     the adapter rebroadcasts as knowledge_added/updated/deleted messages,
//     the hub pushes qualifying critical updates to connected mobile clients
//
// Graceful Shutdown:
//   - Stops accepting new HTTP connections
//   - Unsubscribes and drains the event-bus adapter and WebSocket hub
//   - Flushes and closes the audit and application loggers
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/knowledgerepo/knowledge-repository/internal/api/ws"
	"github.com/knowledgerepo/knowledge-repository/internal/audit"
	"github.com/knowledgerepo/knowledge-repository/internal/config"
	"github.com/knowledgerepo/knowledge-repository/internal/eventbus"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/embedding"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/subscription"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/validator"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/vector"
)

func main() {
	configPath := flag.String("config", "/etc/knowledgerepo/config.yaml", "path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		zap.L().Fatal("failed to construct config manager", zap.Error(err))
	}
	if err := mgr.Load(ctx); err != nil {
		zap.L().Fatal("failed to load configuration", zap.Error(err))
	}
	if err := mgr.Validate(ctx); err != nil {
		zap.L().Fatal("invalid configuration", zap.Error(err))
	}
	cfg := mgr.Get(ctx)

	appLogger, err := newAppLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		zap.L().Fatal("failed to construct application logger", zap.Error(err))
	}
	defer appLogger.Sync()

	auditLogger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Audit.AuditLogPath,
		AppLogPath:   cfg.Audit.AppLogPath,
		MaxSize:      cfg.Audit.MaxSizeMB,
		MaxBackups:   cfg.Audit.MaxBackups,
		MaxAge:       cfg.Audit.MaxAgeDays,
		Compress:     cfg.Audit.Compress,
		LogLevel:     cfg.Logging.Level,
	})
	if err != nil {
		appLogger.Fatal("failed to construct audit logger", zap.Error(err))
	}
	defer auditLogger.Close()

	v := validator.New()
	registerSchemas(v, cfg.Validator.SchemaPatterns, appLogger)

	itemCache := knowledge.NewItemCache(cfg.Cache.MaxSize)
	store := knowledge.New(
		vector.NewInMemoryStore(),
		itemCache,
		v,
		embedding.NewHashProvider(cfg.Embedding.Dimension),
		subscription.New[knowledge.Event](cfg.Subscription.QueueSize).WithLogger(appLogger),
		knowledge.WithLogger(appLogger),
		knowledge.WithAuditLogger(auditLogger),
	)
	if err := store.Start(ctx); err != nil {
		appLogger.Fatal("failed to start knowledge store", zap.Error(err))
	}
	defer store.Stop(context.Background())

	bus := eventbus.NewInMemoryBus(cfg.EventBus.QueueSize)
	adapter := eventbus.NewAdapter(store, bus, appLogger, auditLogger)
	adapter.Start()
	defer adapter.Stop()

	hub := ws.NewHub(cfg.Server.AllowedOrigins, appLogger)
	hub.Attach(store)
	defer hub.Detach(store)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go watchConfig(watchCtx, mgr, itemCache, v, appLogger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": hub.ConnectionCount(),
		})
	})
	mux.Handle("/ws/critical-updates", hub)

	srv := &http.Server{
		Addr:    addrFor(cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("http server exited unexpectedly", zap.Error(err))
		}
	}()
	appLogger.Info("knowledge repository server started", zap.Int("port", cfg.Server.Port))

	<-ctx.Done()
	appLogger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("http server shutdown did not complete cleanly", zap.Error(err))
	}
}

func addrFor(port int) string {
	if port <= 0 {
		port = 8081
	}
	return ":" + strconv.Itoa(port)
}

func newAppLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	if format == "text" {
		zcfg.Encoding = "console"
	}
	return zcfg.Build()
}

// registerSchemas loads and registers every configured topic-pattern ->
// schema-file mapping. A file that fails to load is logged and skipped
// rather than aborting startup, since validator.Validate treats unmatched
// topics as valid by default.
func registerSchemas(v validator.Validator, patterns map[string]string, logger *zap.Logger) {
	for pattern, path := range patterns {
		schema, err := validator.LoadSchemaFile(path)
		if err != nil {
			logger.Warn("skipping unreadable schema file", zap.String("pattern", pattern), zap.String("path", path), zap.Error(err))
			continue
		}
		if err := v.Register(pattern, schema); err != nil {
			logger.Warn("skipping invalid schema pattern", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

// watchConfig applies hot-reloadable settings (cache capacity, validator
// schema set) as config changes land, per SPEC_FULL.md §11. A reloaded
// config that fails validation is ignored. Schemas are registered again on
// each change; the validator appends them after the earlier registrations,
// which keep precedence and are never removed.
func watchConfig(ctx context.Context, mgr config.ConfigManager, itemCache knowledge.Cache, v validator.Validator, logger *zap.Logger) {
	updates := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				logger.Warn("ignoring invalid reloaded configuration", zap.Errors("errors", errs))
				continue
			}
			if err := itemCache.SetMaxSize(cfg.Cache.MaxSize); err != nil {
				logger.Warn("failed to apply reloaded cache size", zap.Error(err))
			}
			registerSchemas(v, cfg.Validator.SchemaPatterns, logger)
			logger.Info("applied reloaded configuration")
		}
	}
}
