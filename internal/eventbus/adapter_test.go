package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgerepo/knowledge-repository/internal/knowledge"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/embedding"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/subscription"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/validator"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/vector"
)

func newTestStore(t *testing.T) *knowledge.Store {
	t.Helper()
	s := knowledge.New(
		vector.NewInMemoryStore(),
		knowledge.NewItemCache(100),
		validator.New(),
		embedding.NewHashProvider(64),
		subscription.New[knowledge.Event](64),
	)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

type responseCollector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *responseCollector) record(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *responseCollector) last() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return Message{}, false
	}
	return c.msgs[len(c.msgs)-1], true
}

func (c *responseCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newTestAdapter(t *testing.T) (*Adapter, *knowledge.Store, *InMemoryBus) {
	t.Helper()
	store := newTestStore(t)
	bus := NewInMemoryBus(64)
	adapter := NewAdapter(store, bus, zap.NewNop(), nil)
	adapter.Start()
	t.Cleanup(adapter.Stop)
	return adapter, store, bus
}

func TestHandlePublishSuccess(t *testing.T) {
	_, _, bus := newTestAdapter(t)

	collector := &responseCollector{}
	bus.Subscribe("knowledge_publish_response", collector.record)

	bus.Publish(Message{Name: "knowledge_publish", Payload: map[string]interface{}{
		"correlation_id": "corr-1",
		"knowledge_type": "FACT",
		"topic":          "t",
		"content":        "hello",
	}})

	require.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)
	msg, _ := collector.last()
	assert.Equal(t, true, msg.Payload["success"])
	assert.Equal(t, "corr-1", msg.Payload["correlation_id"])
	assert.NotEmpty(t, msg.Payload["knowledge_id"])
}

func TestHandlePublishMissingTopicDropsMalformed(t *testing.T) {
	_, _, bus := newTestAdapter(t)

	collector := &responseCollector{}
	bus.Subscribe("knowledge_publish_response", collector.record)

	bus.Publish(Message{Name: "knowledge_publish", Payload: map[string]interface{}{
		"knowledge_type": "FACT",
		"content":        "hello",
	}})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, collector.count(), "malformed payload should be dropped, not answered")
}

func TestHandleQueryByID(t *testing.T) {
	_, store, bus := newTestAdapter(t)

	id, err := store.Publish(context.Background(), knowledge.TypeFact, "t", "content", nil, "", nil, nil)
	require.NoError(t, err)

	collector := &responseCollector{}
	bus.Subscribe("knowledge_query_response", collector.record)

	bus.Publish(Message{Name: "knowledge_query", Payload: map[string]interface{}{
		"correlation_id": "corr-2",
		"query":          id,
		"query_type":     "id",
	}})

	require.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)
	msg, _ := collector.last()
	assert.EqualValues(t, 1, msg.Payload["count"])
}

func TestHandleQueryMissingQueryDropsMalformed(t *testing.T) {
	_, _, bus := newTestAdapter(t)

	collector := &responseCollector{}
	bus.Subscribe("knowledge_query_response", collector.record)

	bus.Publish(Message{Name: "knowledge_query", Payload: map[string]interface{}{}})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, collector.count())
}

func TestHandleUpdateSuccess(t *testing.T) {
	_, store, bus := newTestAdapter(t)

	id, err := store.Publish(context.Background(), knowledge.TypeFact, "t", "v1", nil, "", nil, nil)
	require.NoError(t, err)

	collector := &responseCollector{}
	bus.Subscribe("knowledge_update_response", collector.record)

	bus.Publish(Message{Name: "knowledge_update", Payload: map[string]interface{}{
		"correlation_id": "corr-3",
		"knowledge_id":   id,
		"content":        "v2",
	}})

	require.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)
	msg, _ := collector.last()
	assert.Equal(t, true, msg.Payload["success"])
	assert.Equal(t, id, msg.Payload["previous_version_id"])
}

func TestHandleDeleteSuccessAndNotFound(t *testing.T) {
	_, store, bus := newTestAdapter(t)

	id, err := store.Publish(context.Background(), knowledge.TypeFact, "t", "v1", nil, "", nil, nil)
	require.NoError(t, err)

	collector := &responseCollector{}
	bus.Subscribe("knowledge_delete_response", collector.record)

	bus.Publish(Message{Name: "knowledge_delete", Payload: map[string]interface{}{"knowledge_id": id}})
	require.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)
	msg, _ := collector.last()
	assert.Equal(t, true, msg.Payload["success"])

	bus.Publish(Message{Name: "knowledge_delete", Payload: map[string]interface{}{"knowledge_id": "missing"}})
	require.Eventually(t, func() bool { return collector.count() == 2 }, time.Second, 10*time.Millisecond)
	msg, _ = collector.last()
	assert.Equal(t, false, msg.Payload["success"])
}

func TestLifecycleEventsRebroadcastOnPublish(t *testing.T) {
	_, store, bus := newTestAdapter(t)

	collector := &responseCollector{}
	bus.Subscribe("knowledge_added", collector.record)

	_, err := store.Publish(context.Background(), knowledge.TypeFact, "t", "v1", nil, "", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStopUnsubscribesFromBusAndStore(t *testing.T) {
	store := newTestStore(t)
	bus := NewInMemoryBus(64)
	adapter := NewAdapter(store, bus, zap.NewNop(), nil)
	adapter.Start()
	adapter.Stop()

	collector := &responseCollector{}
	bus.Subscribe("knowledge_publish_response", collector.record)

	bus.Publish(Message{Name: "knowledge_publish", Payload: map[string]interface{}{
		"knowledge_type": "FACT",
		"topic":          "t",
		"content":        "hello",
	}})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, collector.count(), "adapter should no longer be listening after Stop")
}
