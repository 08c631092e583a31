package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (Logger, *Config) {
	t.Helper()
	tmpDir := t.TempDir()
	config := &Config{
		AuditLogPath: filepath.Join(tmpDir, "audit.log"),
		AppLogPath:   filepath.Join(tmpDir, "app.log"),
		MaxSize:      10,
		MaxBackups:   3,
		MaxAge:       7,
		Compress:     false,
		LogLevel:     "info",
	}
	logger, err := NewLogger(config)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger, config
}

func TestNewLogger(t *testing.T) {
	logger, _ := newTestLogger(t)
	assert.NotNil(t, logger)
}

func TestNewLoggerWithInvalidLevel(t *testing.T) {
	tmpDir := t.TempDir()
	config := &Config{
		AuditLogPath: filepath.Join(tmpDir, "audit.log"),
		AppLogPath:   filepath.Join(tmpDir, "app.log"),
		LogLevel:     "invalid",
	}

	_, err := NewLogger(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "logs/audit.log", config.AuditLogPath)
	assert.Equal(t, "logs/app.log", config.AppLogPath)
	assert.Equal(t, 100, config.MaxSize)
	assert.Equal(t, 10, config.MaxBackups)
	assert.Equal(t, "info", config.LogLevel)
}

func TestLogEvent(t *testing.T) {
	logger, config := newTestLogger(t)

	ctx := context.Background()
	event := NewEvent(EventKnowledgePublished).
		WithCorrelationID("test-123").
		WithResource("kid-1", "knowledge_item").
		WithResult(ResultSuccess)

	require.NoError(t, logger.Log(ctx, event))
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(config.AuditLogPath)
	require.NoError(t, err)

	logContent := string(content)
	assert.Contains(t, logContent, "test-123")
	assert.Contains(t, logContent, "knowledge.published")
	assert.Contains(t, logContent, "kid-1")
}

func TestLogPublishUpdateDeleteLifecycle(t *testing.T) {
	logger, config := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, logger.LogPublish(ctx, "corr-1", "kid-1", 5*time.Millisecond, nil))
	require.NoError(t, logger.LogUpdate(ctx, "corr-2", "kid-2", "kid-1", 3*time.Millisecond, nil))
	require.NoError(t, logger.LogDelete(ctx, "corr-3", "kid-2", 1*time.Millisecond, true))
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(config.AuditLogPath)
	require.NoError(t, err)

	logContent := string(content)
	assert.Contains(t, logContent, "knowledge.published")
	assert.Contains(t, logContent, "knowledge.updated")
	assert.Contains(t, logContent, "knowledge.deleted")
	assert.Contains(t, logContent, "kid-1")
}

func TestLogPublishFailureRecordsError(t *testing.T) {
	logger, config := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, logger.LogPublish(ctx, "corr-1", "", 1*time.Millisecond, assert.AnError))
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(config.AuditLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "\"result\":\"failure\"")
}

func TestLogQuery(t *testing.T) {
	logger, config := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, logger.LogQuery(ctx, "corr-4", "text", 3, 2*time.Millisecond, nil))
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(config.AuditLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "knowledge.query_handled")
}

func TestLogSubscriptionLifecycle(t *testing.T) {
	logger, config := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, logger.LogSubscriptionRegistered(ctx, "sub-1"))
	require.NoError(t, logger.LogSubscriptionUnregistered(ctx, "sub-1", true))
	require.NoError(t, logger.LogSubscriptionUnregistered(ctx, "sub-unknown", false))
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(config.AuditLogPath)
	require.NoError(t, err)

	logContent := string(content)
	assert.Contains(t, logContent, "subscription.registered")
	assert.Contains(t, logContent, "subscription.unregistered")
}

func TestBufferAutoFlush(t *testing.T) {
	logger, config := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := NewEvent(EventHealthCheck).WithCorrelationID("test").WithResult(ResultSuccess)
		require.NoError(t, logger.Log(ctx, event))
	}

	time.Sleep(1500 * time.Millisecond)

	content, err := os.ReadFile(config.AuditLogPath)
	require.NoError(t, err)
	assert.NotEmpty(t, content)
}

func TestBufferFullFlush(t *testing.T) {
	logger, config := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		event := NewEvent(EventHealthCheck).WithCorrelationID("test").WithResult(ResultSuccess)
		require.NoError(t, logger.Log(ctx, event))
	}
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(config.AuditLogPath)
	require.NoError(t, err)

	lines := strings.Split(string(content), "\n")
	eventCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			eventCount++
		}
	}
	assert.GreaterOrEqual(t, eventCount, 105)
}

func TestCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()
	assert.NotEqual(t, id1, id2)

	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "test-correlation-id")
	assert.Equal(t, "test-correlation-id", GetCorrelationID(ctx))
}

func TestEventBuilderChain(t *testing.T) {
	event := NewEvent(EventKnowledgeUpdated).
		WithCorrelationID("corr-123").
		WithResource("kid-9", "knowledge_item").
		WithAction("update").
		WithDescription("updated status to ACTIVE").
		WithResult(ResultSuccess).
		WithDuration(3 * time.Second).
		WithMetadata("previous_version_id", "kid-8")

	assert.Equal(t, "corr-123", event.CorrelationID)
	assert.Equal(t, "kid-9", event.Resource)
	assert.Equal(t, "knowledge_item", event.ResourceType)
	assert.Equal(t, "update", event.Action)
	assert.Equal(t, ResultSuccess, event.Result)
	assert.Equal(t, int64(3000), event.DurationMs)
	assert.Equal(t, "kid-8", event.Metadata["previous_version_id"])
}

func TestEventJSONSerialization(t *testing.T) {
	event := NewEvent(EventKnowledgePublished).
		WithCorrelationID("inv-789").
		WithResult(ResultSuccess)

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "inv-789", decoded.CorrelationID)
	assert.Equal(t, EventKnowledgePublished, decoded.EventType)
	assert.Equal(t, ResultSuccess, decoded.Result)
}
