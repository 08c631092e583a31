package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledgerepo/knowledge-repository/internal/audit"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/embedding"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/subscription"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/validator"
	"github.com/knowledgerepo/knowledge-repository/internal/knowledge/vector"
	"github.com/knowledgerepo/knowledge-repository/internal/metrics"
)

func observeOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.OperationsTotal.WithLabelValues(operation, status).Inc()
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SearchResult pairs a retrieved item with its cosine-similarity score.
type SearchResult struct {
	Item  *Item
	Score float64
}

// PublishEntry is one unit of work for PublishBatch.
type PublishEntry struct {
	Type          Type
	Topic         string
	Content       interface{}
	Metadata      map[string]interface{}
	SourceID      string
	AccessControl map[string]interface{}
	Tags          []string
}

// BatchResult is the outcome of one PublishEntry: exactly one of ID or Err
// is set, so callers never have to infer success from a sentinel value.
type BatchResult struct {
	ID  string
	Err error
}

// Store is the authoritative in-memory knowledge repository: the single
// writer of primary state, its five secondary indices, the version chain,
// and the components (vector storage, embedding, validation, cache,
// notification) it coordinates on every mutation.
type Store struct {
	mu sync.RWMutex

	items       map[string]*Item
	topicIndex  map[string]map[string]struct{}
	typeIndex   map[Type]map[string]struct{}
	sourceIndex map[string]map[string]struct{}
	tagIndex    map[string]map[string]struct{}
	statusIndex map[Status]map[string]struct{}
	successors  map[string][]string

	vectorStore vector.Store
	cache       Cache
	validator   validator.Validator
	embedder    embedding.Provider
	subs        *subscription.Engine[Event]

	logger *zap.Logger
	audit  audit.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithAuditLogger records subscription registration/removal to an audit
// trail. Unset by default, in which case those events are not audited.
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Store) { s.audit = logger }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides knowledge_id generation, for deterministic tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New assembles a Store from its component dependencies.
func New(vectorStore vector.Store, cache Cache, v validator.Validator, embedder embedding.Provider, subs *subscription.Engine[Event], opts ...Option) *Store {
	s := &Store{
		items:       make(map[string]*Item),
		topicIndex:  make(map[string]map[string]struct{}),
		typeIndex:   make(map[Type]map[string]struct{}),
		sourceIndex: make(map[string]map[string]struct{}),
		tagIndex:    make(map[string]map[string]struct{}),
		statusIndex: make(map[Status]map[string]struct{}),
		successors:  make(map[string][]string),
		vectorStore: vectorStore,
		cache:       cache,
		validator:   v,
		embedder:    embedder,
		subs:        subs,
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start brings the repository into service. It currently performs no
// recovery work (there is no durable state to replay) but is kept as an
// explicit lifecycle hook so an event-bus adapter has a well-defined point
// to begin subscribing.
func (s *Store) Start(ctx context.Context) error {
	s.logger.Info("knowledge store started")
	return nil
}

// Stop logs that the repository is out of service. It does not unsubscribe
// subscribers or wait for pending notification dispatches.
func (s *Store) Stop(ctx context.Context) error {
	s.logger.Info("knowledge store stopped")
	return nil
}

// rollbackStep is one undo action recorded while a mutation is in flight,
// so a cancelled or failed operation can unwind partial effects.
type rollbackStep func()

func runRollback(steps []rollbackStep) {
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

func vectorMeta(item *Item) vector.Metadata {
	return vector.Metadata{
		Topic:    item.Topic,
		Type:     string(item.Type),
		SourceID: item.SourceID,
		Tags:     item.TagSlice(),
	}
}

// Publish validates, embeds, and commits a new knowledge item, returning its
// assigned id. The vector is always computed from content by the embedding
// provider; Publish takes no caller-supplied vector.
func (s *Store) Publish(ctx context.Context, itemType Type, topic string, content interface{}, metadata map[string]interface{}, sourceID string, accessControl map[string]interface{}, tags []string) (id string, err error) {
	start := time.Now()
	defer func() { observeOperation("publish", start, err) }()

	if err = ctx.Err(); err != nil {
		return "", wrapError(KindCancelled, "publish cancelled before starting", err)
	}

	if err = s.validator.Validate(topic, content); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues(topic).Inc()
		return "", wrapError(KindValidationFailed, "content failed schema validation", err)
	}

	id = s.newID()
	now := s.now()

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	item := &Item{
		ID:            id,
		Type:          itemType,
		Status:        StatusDraft,
		Topic:         topic,
		Content:       content,
		Metadata:      metadata,
		SourceID:      sourceID,
		AccessControl: accessControl,
		Tags:          tagSet,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	vec, err := s.embedder.Embed(content)
	if err != nil {
		return "", wrapError(KindEmbeddingFailed, "failed to embed content", err)
	}
	item.Vector = vec

	if err := ctx.Err(); err != nil {
		return "", wrapError(KindCancelled, "publish cancelled before commit", err)
	}

	var steps []rollbackStep

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return "", newError(KindAlreadyExists, "knowledge id already exists")
	}

	if err := s.vectorStore.AddVector(id, item.Vector, vectorMeta(item)); err != nil {
		return "", wrapError(KindVectorStoreFailed, "failed to persist vector", err)
	}
	steps = append(steps, func() { s.vectorStore.DeleteVector(id) })

	if err := ctx.Err(); err != nil {
		runRollback(steps)
		return "", wrapError(KindCancelled, "publish cancelled after vector insert", err)
	}

	s.items[id] = item
	steps = append(steps, func() { delete(s.items, id) })

	s.indexLocked(item)
	steps = append(steps, func() { s.unindexLocked(item) })

	s.cache.Add(item)

	s.dispatchLocked(Event{Type: EventAdded, Item: item.Clone()})

	return id, nil
}

func (s *Store) indexLocked(item *Item) {
	addToIndex(s.topicIndex, item.Topic, item.ID)
	addToTypeIndex(s.typeIndex, item.Type, item.ID)
	if item.SourceID != "" {
		addToIndex(s.sourceIndex, item.SourceID, item.ID)
	}
	for tag := range item.Tags {
		addToIndex(s.tagIndex, tag, item.ID)
	}
	addToStatusIndex(s.statusIndex, item.Status, item.ID)
}

func (s *Store) unindexLocked(item *Item) {
	removeFromIndex(s.topicIndex, item.Topic, item.ID)
	removeFromTypeIndex(s.typeIndex, item.Type, item.ID)
	if item.SourceID != "" {
		removeFromIndex(s.sourceIndex, item.SourceID, item.ID)
	}
	for tag := range item.Tags {
		removeFromIndex(s.tagIndex, tag, item.ID)
	}
	removeFromStatusIndex(s.statusIndex, item.Status, item.ID)
}

func addToIndex(idx map[string]map[string]struct{}, key, id string) {
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][id] = struct{}{}
}

func removeFromIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func addToTypeIndex(idx map[Type]map[string]struct{}, key Type, id string) {
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][id] = struct{}{}
}

func removeFromTypeIndex(idx map[Type]map[string]struct{}, key Type, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func addToStatusIndex(idx map[Status]map[string]struct{}, key Status, id string) {
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][id] = struct{}{}
}

func removeFromStatusIndex(idx map[Status]map[string]struct{}, key Status, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// dispatchLocked publishes a notification while the write lock is held. The
// subscription engine's own queueing makes this non-blocking with respect
// to subscriber handlers.
func (s *Store) dispatchLocked(ev Event) {
	if s.subs != nil {
		s.subs.Publish(ev)
	}
}

// Get returns a clone of the item with the given id, consulting the cache
// first and falling through to the store on a miss. The store read and the
// resulting cache warm happen under the same read lock, so a concurrent
// Delete can never interleave between them and re-insert a just-deleted item.
func (s *Store) Get(id string) (*Item, bool) {
	if item, ok := s.cache.Get(id); ok {
		metrics.CacheHitsTotal.Inc()
		return item.Clone(), true
	}
	metrics.CacheMissesTotal.Inc()

	s.mu.RLock()
	item, ok := s.items[id]
	if ok {
		s.cache.Add(item)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

func (s *Store) resolveIDs(ids map[string]struct{}) []*Item {
	out := make([]*Item, 0, len(ids))
	for id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item.Clone())
		}
	}
	return out
}

func (s *Store) ByTopic(topic string) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveIDs(s.topicIndex[topic])
}

func (s *Store) ByType(t Type) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveIDs(s.typeIndex[t])
}

func (s *Store) BySource(sourceID string) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveIDs(s.sourceIndex[sourceID])
}

func (s *Store) ByTag(tag string) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveIDs(s.tagIndex[tag])
}

func (s *Store) ByStatus(status Status) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveIDs(s.statusIndex[status])
}

// All returns a clone of every item currently in the store.
func (s *Store) All() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	return out
}

// Delete removes an item and cascades the removal to the vector store,
// every secondary index, and the cache. It never removes predecessors or
// successors in the version chain.
func (s *Store) Delete(id string) bool {
	start := time.Now()
	var ok bool
	defer func() {
		var err error
		if !ok {
			err = newError(KindNotFound, "delete target not found")
		}
		observeOperation("delete", start, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	var item *Item
	item, ok = s.items[id]
	if !ok {
		return false
	}

	s.unindexLocked(item)
	delete(s.items, id)
	s.vectorStore.DeleteVector(id)
	s.cache.Remove(id)

	s.dispatchLocked(Event{Type: EventDeleted, Item: item.Clone()})
	return true
}

// Update supersedes the item at id with a new version built from patch,
// returning the new item's id.
func (s *Store) Update(ctx context.Context, id string, patch UpdatePatch) (newID string, err error) {
	opStart := time.Now()
	defer func() { observeOperation("update", opStart, err) }()

	if err = ctx.Err(); err != nil {
		return "", wrapError(KindCancelled, "update cancelled before starting", err)
	}

	s.mu.RLock()
	prev, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return "", newError(KindNotFound, "knowledge id not found")
	}

	if patch.HasContent {
		if err = s.validator.Validate(prev.Topic, patch.Content); err != nil {
			return "", wrapError(KindValidationFailed, "updated content failed schema validation", err)
		}
	}

	newID = s.newID()
	next := prev.Apply(newID, patch, s.now())

	// Embedding runs before the write lock is taken, same as Publish, so a
	// slow or suspending embedder never blocks other readers or writers.
	if !patch.HasVector && patch.HasContent {
		vec, embedErr := s.embedder.Embed(next.Content)
		if embedErr != nil {
			return "", wrapError(KindEmbeddingFailed, "failed to re-embed updated content", embedErr)
		}
		next.Vector = vec
	}

	if err = ctx.Err(); err != nil {
		return "", wrapError(KindCancelled, "update cancelled before commit", err)
	}

	var steps []rollbackStep

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok || current != prev {
		return "", newError(KindConflict, "knowledge item changed concurrently, retry update")
	}

	if err = s.vectorStore.AddVector(newID, next.Vector, vectorMeta(next)); err != nil {
		return "", wrapError(KindVectorStoreFailed, "failed to persist updated vector", err)
	}
	steps = append(steps, func() { s.vectorStore.DeleteVector(newID) })

	if err = ctx.Err(); err != nil {
		runRollback(steps)
		return "", wrapError(KindCancelled, "update cancelled after vector insert", err)
	}

	s.items[newID] = next
	s.indexLocked(next)
	s.successors[prev.ID] = append(s.successors[prev.ID], newID)

	s.cache.Add(next)

	s.dispatchLocked(Event{
		Type:         EventUpdated,
		Item:         next.Clone(),
		PreviousItem: prev.Clone(),
	})

	return newID, nil
}

// VersionHistory walks the predecessor chain backward and the successor map
// forward from id, returning every linked item sorted by version ascending.
func (s *Store) VersionHistory(id string) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, ok := s.items[id]
	if !ok {
		return nil
	}

	seen := map[string]*Item{id: start}

	for cur := start; cur.PreviousVersionID != ""; {
		prev, ok := s.items[cur.PreviousVersionID]
		if !ok {
			break
		}
		seen[prev.ID] = prev
		cur = prev
	}

	frontier := []string{id}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, succID := range s.successors[next] {
			if _, already := seen[succID]; already {
				continue
			}
			if succ, ok := s.items[succID]; ok {
				seen[succID] = succ
				frontier = append(frontier, succID)
			}
		}
	}

	out := make([]*Item, 0, len(seen))
	for _, item := range seen {
		out = append(out, item.Clone())
	}
	insertionSortByVersion(out)
	return out
}

func insertionSortByVersion(items []*Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Version < items[j-1].Version; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// UpdatesSince returns every item whose updated_at is strictly after t.
func (s *Store) UpdatesSince(t time.Time) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, 0)
	for _, item := range s.items {
		if item.UpdatedAt.After(t) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Priority implements the weighted critical-update scoring rule: rule and
// procedure types, active/deprecated status, and metadata.priority/critical
// all contribute, clipped to 1.0. Exported so other packages pushing
// notifications (e.g. the mobile WebSocket hub) can filter consistently
// with CriticalUpdatesSince instead of maintaining their own copy.
func Priority(item *Item) float64 {
	var p float64

	switch item.Type {
	case TypeRule:
		p += 0.3
	case TypeProcedure:
		p += 0.2
	}

	switch item.Status {
	case StatusActive:
		p += 0.2
	case StatusDeprecated:
		p += 0.1
	}

	if raw, ok := item.Metadata["priority"]; ok {
		if f, ok := toFloat(raw); ok {
			p += f
		}
	}

	if raw, ok := item.Metadata["critical"]; ok && truthy(raw) {
		p += 0.3
	}

	if p > 1.0 {
		p = 1.0
	}
	return p
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != ""
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

// CriticalUpdatesSince filters UpdatesSince(t) by the weighted priority
// score, keeping items whose score is at or above threshold.
func (s *Store) CriticalUpdatesSince(t time.Time, threshold float64) []*Item {
	candidates := s.UpdatesSince(t)
	out := make([]*Item, 0, len(candidates))
	for _, item := range candidates {
		if Priority(item) >= threshold {
			out = append(out, item)
		}
	}
	return out
}

// Search embeds query and returns the top-k matches by descending cosine
// similarity, joined back against the store (results whose store entry has
// since been deleted are dropped).
func (s *Store) Search(query string, k int) (results []SearchResult, err error) {
	opStart := time.Now()
	defer func() { observeOperation("search", opStart, err) }()

	vec, err := s.embedder.Embed(query)
	if err != nil {
		return nil, wrapError(KindEmbeddingFailed, "failed to embed search query", err)
	}
	results = s.searchByVector(vec, k)
	metrics.SearchResultsReturned.WithLabelValues("text").Observe(float64(len(results)))
	return results, nil
}

func (s *Store) searchByVector(vec []float32, k int) []SearchResult {
	hits := s.vectorStore.SearchByVector(vec, k)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		item, ok := s.items[h.ID]
		if !ok {
			continue
		}
		out = append(out, SearchResult{Item: item.Clone(), Score: h.Score})
	}
	return out
}

// SimilarTo returns the top-k items most similar to id's own vector,
// excluding id itself.
func (s *Store) SimilarTo(id string, k int) ([]SearchResult, error) {
	hits, err := s.vectorStore.SearchByID(id, k)
	if err != nil {
		if vector.IsNotFound(err) {
			return nil, newError(KindNotFound, "knowledge id not found in vector storage")
		}
		return nil, wrapError(KindVectorStoreFailed, "similarity search failed", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		item, ok := s.items[h.ID]
		if !ok {
			continue
		}
		out = append(out, SearchResult{Item: item.Clone(), Score: h.Score})
	}
	return out, nil
}

// Filter performs a linear scan of the store and returns every item for
// which predicate returns true, bounded by limit if limit > 0.
func (s *Store) Filter(predicate func(*Item) bool, limit int) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, 0)
	for _, item := range s.items {
		if predicate(item) {
			out = append(out, item.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// SearchAndFilter retrieves 2k vector matches, applies predicate, and
// truncates to k.
func (s *Store) SearchAndFilter(query string, predicate func(*Item) bool, k int) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(query)
	if err != nil {
		return nil, wrapError(KindEmbeddingFailed, "failed to embed search query", err)
	}

	candidates := s.searchByVector(vec, k*2)
	out := make([]SearchResult, 0, k)
	for _, c := range candidates {
		if predicate(c.Item) {
			out = append(out, c)
			if len(out) >= k {
				break
			}
		}
	}
	return out, nil
}

// Subscribe registers handler for every future notification matching
// filter (nil filter matches everything), returning the subscription id.
func (s *Store) Subscribe(filter NotificationFilter, handler NotificationHandler) string {
	id := s.subs.Subscribe(filter, handler)
	if s.audit != nil {
		s.audit.LogSubscriptionRegistered(context.Background(), id)
	}
	return id
}

// Unsubscribe removes a subscription; unknown ids return false.
func (s *Store) Unsubscribe(id string) bool {
	found := s.subs.Unsubscribe(id)
	if s.audit != nil {
		s.audit.LogSubscriptionUnregistered(context.Background(), id, found)
	}
	return found
}

// PublishBatch applies Publish independently to each entry, tagging every
// result success-or-failure rather than leaving positional gaps.
func (s *Store) PublishBatch(ctx context.Context, entries []PublishEntry) []BatchResult {
	out := make([]BatchResult, len(entries))
	for i, e := range entries {
		id, err := s.Publish(ctx, e.Type, e.Topic, e.Content, e.Metadata, e.SourceID, e.AccessControl, e.Tags)
		out[i] = BatchResult{ID: id, Err: err}
	}
	return out
}
