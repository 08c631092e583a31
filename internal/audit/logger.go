package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging of mutating knowledge
// repository operations, per SPEC_FULL.md §6.2.
type Logger interface {
	// Log logs an arbitrary audit event.
	Log(ctx context.Context, event *Event) error

	LogPublish(ctx context.Context, correlationID, knowledgeID string, duration time.Duration, err error) error
	LogUpdate(ctx context.Context, correlationID, knowledgeID, previousID string, duration time.Duration, err error) error
	LogDelete(ctx context.Context, correlationID, knowledgeID string, duration time.Duration, success bool) error
	LogQuery(ctx context.Context, correlationID, queryType string, resultCount int, duration time.Duration, err error) error
	LogSubscriptionRegistered(ctx context.Context, subscriptionID string) error
	LogSubscriptionUnregistered(ctx context.Context, subscriptionID string, found bool) error

	// Sync flushes buffered log entries.
	Sync() error

	// Close closes the audit logger.
	Close() error
}

// Config represents audit logger configuration.
type Config struct {
	AuditLogPath string
	AppLogPath   string
	MaxSize      int
	MaxBackups   int
	MaxAge       int
	Compress     bool
	LogLevel     string
}

// DefaultConfig returns default audit logger configuration.
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100,
		MaxBackups:   10,
		MaxAge:       30,
		Compress:     true,
		LogLevel:     "info",
	}
}

type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger with two independent zap cores, one
// for application chatter and one append-only for audit records, each
// backed by its own lumberjack rotator.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	appCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(appRotator), level)
	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	auditCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(auditRotator), zapcore.InfoLevel)
	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}
	return nil
}

func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogPublish records a publish attempt. err nil means success.
func (l *auditLogger) LogPublish(ctx context.Context, correlationID, knowledgeID string, duration time.Duration, err error) error {
	event := NewEvent(EventKnowledgePublished).
		WithCorrelationID(correlationID).
		WithResource(knowledgeID, "knowledge_item").
		WithAction("publish").
		WithDuration(duration).
		WithResult(ResultSuccess)

	if err != nil {
		event.WithError(err, "publish_failed")
	}
	return l.Log(ctx, event)
}

// LogUpdate records an update attempt, linking the new id back to the
// version it supersedes.
func (l *auditLogger) LogUpdate(ctx context.Context, correlationID, knowledgeID, previousID string, duration time.Duration, err error) error {
	event := NewEvent(EventKnowledgeUpdated).
		WithCorrelationID(correlationID).
		WithResource(knowledgeID, "knowledge_item").
		WithAction("update").
		WithDuration(duration).
		WithMetadata("previous_version_id", previousID).
		WithResult(ResultSuccess)

	if err != nil {
		event.WithError(err, "update_failed")
	}
	return l.Log(ctx, event)
}

// LogDelete records a delete attempt.
func (l *auditLogger) LogDelete(ctx context.Context, correlationID, knowledgeID string, duration time.Duration, success bool) error {
	event := NewEvent(EventKnowledgeDeleted).
		WithCorrelationID(correlationID).
		WithResource(knowledgeID, "knowledge_item").
		WithAction("delete").
		WithDuration(duration)

	if success {
		event.WithResult(ResultSuccess)
	} else {
		event.WithResult(ResultFailure).WithDescription("delete target not found")
	}
	return l.Log(ctx, event)
}

// LogQuery records a query/search request.
func (l *auditLogger) LogQuery(ctx context.Context, correlationID, queryType string, resultCount int, duration time.Duration, err error) error {
	event := NewEvent(EventQueryHandled).
		WithCorrelationID(correlationID).
		WithAction(fmt.Sprintf("query:%s", queryType)).
		WithDuration(duration).
		WithMetadata("result_count", resultCount).
		WithResult(ResultSuccess)

	if err != nil {
		event.WithError(err, "query_failed")
	}
	return l.Log(ctx, event)
}

// LogSubscriptionRegistered records a new subscription.
func (l *auditLogger) LogSubscriptionRegistered(ctx context.Context, subscriptionID string) error {
	event := NewEvent(EventSubscriptionRegistered).
		WithResource(subscriptionID, "subscription").
		WithResult(ResultSuccess)
	return l.Log(ctx, event)
}

// LogSubscriptionUnregistered records a removal; found=false means the id
// was already unknown (per the idempotent-unsubscribe contract).
func (l *auditLogger) LogSubscriptionUnregistered(ctx context.Context, subscriptionID string, found bool) error {
	event := NewEvent(EventSubscriptionUnregistered).
		WithResource(subscriptionID, "subscription")
	if found {
		event.WithResult(ResultSuccess)
	} else {
		event.WithResult(ResultFailure).WithDescription("subscription id not found")
	}
	return l.Log(ctx, event)
}

func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.auditLogger.Sync(); err != nil {
		return err
	}
	return l.appLogger.Sync()
}

func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()
	return l.Sync()
}

type correlationIDKey struct{}

// GetCorrelationID extracts correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID.
func GenerateCorrelationID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}
