package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgerepo/knowledge-repository/internal/audit"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge"
	"github.com/knowledgerepo/knowledge-repository/internal/metrics"
)

// Adapter bridges the external event bus to the knowledge Store: it
// answers the four correlated request/response event pairs and rebroadcasts
// the store's own add/update/delete notifications as uncorrelated lifecycle
// events, per SPEC_FULL.md §4.7.
type Adapter struct {
	store  *knowledge.Store
	bus    Bus
	logger *zap.Logger
	audit  audit.Logger

	unsubscribeFns []func()
	storeSubID     string
}

// NewAdapter wires a Store to a Bus. Call Start to begin listening. auditLog
// may be nil, in which case mutating operations are not audited.
func NewAdapter(store *knowledge.Store, bus Bus, logger *zap.Logger, auditLog audit.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{store: store, bus: bus, logger: logger, audit: auditLog}
}

// Start subscribes to the four request events and to the store's lifecycle
// notifications.
func (a *Adapter) Start() {
	a.unsubscribeFns = append(a.unsubscribeFns,
		a.bus.Subscribe("knowledge_query", a.handleQuery),
		a.bus.Subscribe("knowledge_publish", a.handlePublish),
		a.bus.Subscribe("knowledge_update", a.handleUpdate),
		a.bus.Subscribe("knowledge_delete", a.handleDelete),
	)

	a.storeSubID = a.store.Subscribe(knowledge.AnyEvent(), a.handleLifecycleEvent)
}

// Stop tears down every subscription the adapter registered.
func (a *Adapter) Stop() {
	for _, unsub := range a.unsubscribeFns {
		unsub()
	}
	a.unsubscribeFns = nil
	if a.storeSubID != "" {
		a.store.Unsubscribe(a.storeSubID)
	}
}

func (a *Adapter) handleLifecycleEvent(ev knowledge.Event) {
	switch ev.Type {
	case knowledge.EventAdded:
		a.bus.Publish(Message{Name: "knowledge_added", Payload: map[string]interface{}{
			"knowledge_id": ev.Item.ID,
			"knowledge_type": string(ev.Item.Type),
			"topic":        ev.Item.Topic,
			"source_id":    ev.Item.SourceID,
			"created_at":   ev.Item.CreatedAt.UTC().Format(knowledge.ISOTimeFormat),
			"updated_at":   ev.Item.UpdatedAt.UTC().Format(knowledge.ISOTimeFormat),
		}})
		metrics.EventBusMessagesTotal.WithLabelValues("knowledge_added", "handled").Inc()
	case knowledge.EventUpdated:
		a.bus.Publish(Message{Name: "knowledge_updated", Payload: map[string]interface{}{
			"knowledge_id":        ev.Item.ID,
			"knowledge_type":      string(ev.Item.Type),
			"topic":               ev.Item.Topic,
			"source_id":           ev.Item.SourceID,
			"created_at":          ev.Item.CreatedAt.UTC().Format(knowledge.ISOTimeFormat),
			"updated_at":          ev.Item.UpdatedAt.UTC().Format(knowledge.ISOTimeFormat),
			"previous_version_id": ev.Item.PreviousVersionID,
			"version":             ev.Item.Version,
		}})
		metrics.EventBusMessagesTotal.WithLabelValues("knowledge_updated", "handled").Inc()
	case knowledge.EventDeleted:
		a.bus.Publish(Message{Name: "knowledge_deleted", Payload: map[string]interface{}{
			"knowledge_id":   ev.Item.ID,
			"knowledge_type": string(ev.Item.Type),
			"topic":          ev.Item.Topic,
			"source_id":      ev.Item.SourceID,
			"created_at":     ev.Item.CreatedAt.UTC().Format(knowledge.ISOTimeFormat),
			"updated_at":     ev.Item.UpdatedAt.UTC().Format(knowledge.ISOTimeFormat),
		}})
		metrics.EventBusMessagesTotal.WithLabelValues("knowledge_deleted", "handled").Inc()
	}
}

func correlationID(payload map[string]interface{}) string {
	if v, ok := payload["correlation_id"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func stringField(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intField(payload map[string]interface{}, key string, def int) int {
	v, ok := payload[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

func (a *Adapter) dropMalformed(eventName string, reason string, payload map[string]interface{}) {
	a.logger.Warn("dropping malformed event-bus payload",
		zap.String("event", eventName),
		zap.String("reason", reason),
		zap.String("correlation_id", correlationID(payload)),
	)
	metrics.EventBusMessagesTotal.WithLabelValues(eventName, "dropped_malformed").Inc()
}

// auditLog runs logFn if an audit.Logger was wired; nil otherwise means
// auditing is disabled for this adapter.
func (a *Adapter) auditLog(logFn func(audit.Logger)) {
	if a.audit != nil {
		logFn(a.audit)
	}
}

func (a *Adapter) handleQuery(msg Message) {
	corrID := correlationID(msg.Payload)
	start := time.Now()

	query, ok := stringField(msg.Payload, "query")
	if !ok || query == "" {
		a.dropMalformed(msg.Name, "missing required field 'query'", msg.Payload)
		return
	}
	queryType, ok := stringField(msg.Payload, "query_type")
	if !ok {
		queryType = "text"
	}
	limit := intField(msg.Payload, "limit", 10)

	var items []*knowledge.Item
	var err error

	switch queryType {
	case "text":
		var results []knowledge.SearchResult
		results, err = a.store.Search(query, limit)
		for _, r := range results {
			items = append(items, r.Item)
		}
	case "topic":
		items = a.store.ByTopic(query)
		if len(items) > limit {
			items = items[:limit]
		}
	case "tag":
		items = a.store.ByTag(query)
		if len(items) > limit {
			items = items[:limit]
		}
	case "id":
		if item, found := a.store.Get(query); found {
			items = []*knowledge.Item{item}
		}
	default:
		a.dropMalformed(msg.Name, fmt.Sprintf("unknown query_type %q", queryType), msg.Payload)
		return
	}

	if err != nil {
		a.auditLog(func(l audit.Logger) {
			l.LogQuery(context.Background(), corrID, queryType, 0, time.Since(start), err)
		})
		a.bus.Publish(Message{Name: "knowledge_query_response", Payload: map[string]interface{}{
			"correlation_id": corrID,
			"success":        false,
			"error":          err.Error(),
		}})
		return
	}

	wire := make([]map[string]interface{}, len(items))
	for i, item := range items {
		wire[i] = item.ToWire()
	}
	a.auditLog(func(l audit.Logger) {
		l.LogQuery(context.Background(), corrID, queryType, len(wire), time.Since(start), nil)
	})
	a.bus.Publish(Message{Name: "knowledge_query_response", Payload: map[string]interface{}{
		"correlation_id": corrID,
		"items":          wire,
		"count":          len(wire),
	}})
}

func (a *Adapter) handlePublish(msg Message) {
	corrID := correlationID(msg.Payload)
	start := time.Now()

	typeName, ok := stringField(msg.Payload, "knowledge_type")
	if !ok {
		a.dropMalformed(msg.Name, "missing required field 'knowledge_type'", msg.Payload)
		return
	}
	itemType := knowledge.Type(typeName)
	if !itemType.Valid() {
		a.dropMalformed(msg.Name, fmt.Sprintf("unparseable knowledge_type %q", typeName), msg.Payload)
		return
	}

	topic, ok := stringField(msg.Payload, "topic")
	if !ok || topic == "" {
		a.dropMalformed(msg.Name, "missing required field 'topic'", msg.Payload)
		return
	}

	content, ok := msg.Payload["content"]
	if !ok {
		a.dropMalformed(msg.Name, "missing required field 'content'", msg.Payload)
		return
	}

	metadata, _ := msg.Payload["metadata"].(map[string]interface{})
	accessControl, _ := msg.Payload["access_control"].(map[string]interface{})
	sourceID, _ := stringField(msg.Payload, "source_id")
	tags := stringSlice(msg.Payload["tags"])

	id, err := a.store.Publish(context.Background(), itemType, topic, content, metadata, sourceID, accessControl, tags)
	a.auditLog(func(l audit.Logger) {
		l.LogPublish(context.Background(), corrID, id, time.Since(start), err)
	})
	if err != nil {
		a.bus.Publish(Message{Name: "knowledge_publish_response", Payload: map[string]interface{}{
			"correlation_id": corrID,
			"success":        false,
			"error":          err.Error(),
		}})
		return
	}

	a.bus.Publish(Message{Name: "knowledge_publish_response", Payload: map[string]interface{}{
		"correlation_id": corrID,
		"knowledge_id":   id,
		"success":        true,
	}})
}

func (a *Adapter) handleUpdate(msg Message) {
	corrID := correlationID(msg.Payload)
	start := time.Now()

	id, ok := stringField(msg.Payload, "knowledge_id")
	if !ok || id == "" {
		a.dropMalformed(msg.Name, "missing required field 'knowledge_id'", msg.Payload)
		return
	}

	patch := knowledge.UpdatePatch{}
	if content, has := msg.Payload["content"]; has {
		patch.Content, patch.HasContent = content, true
	}
	if metadata, has := msg.Payload["metadata"].(map[string]interface{}); has {
		patch.Metadata = metadata
	}
	if statusName, has := stringField(msg.Payload, "status"); has {
		status := knowledge.Status(statusName)
		if !status.Valid() {
			a.dropMalformed(msg.Name, fmt.Sprintf("unparseable status %q", statusName), msg.Payload)
			return
		}
		patch.Status, patch.HasStatus = status, true
	}
	if tags, has := msg.Payload["tags"]; has {
		set := make(map[string]struct{})
		for _, t := range stringSlice(tags) {
			set[t] = struct{}{}
		}
		patch.Tags, patch.HasTags = set, true
	}

	newID, err := a.store.Update(context.Background(), id, patch)
	a.auditLog(func(l audit.Logger) {
		l.LogUpdate(context.Background(), corrID, newID, id, time.Since(start), err)
	})
	if err != nil {
		a.bus.Publish(Message{Name: "knowledge_update_response", Payload: map[string]interface{}{
			"correlation_id": corrID,
			"success":        false,
			"error":          err.Error(),
		}})
		return
	}

	a.bus.Publish(Message{Name: "knowledge_update_response", Payload: map[string]interface{}{
		"correlation_id":      corrID,
		"knowledge_id":        newID,
		"previous_version_id": id,
		"success":             true,
	}})
}

func (a *Adapter) handleDelete(msg Message) {
	corrID := correlationID(msg.Payload)
	start := time.Now()

	id, ok := stringField(msg.Payload, "knowledge_id")
	if !ok || id == "" {
		a.dropMalformed(msg.Name, "missing required field 'knowledge_id'", msg.Payload)
		return
	}

	success := a.store.Delete(id)
	a.auditLog(func(l audit.Logger) {
		l.LogDelete(context.Background(), corrID, id, time.Since(start), success)
	})
	a.bus.Publish(Message{Name: "knowledge_delete_response", Payload: map[string]interface{}{
		"correlation_id": corrID,
		"success":        success,
	}})
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		if direct, ok := v.([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
