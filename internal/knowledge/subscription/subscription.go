// Package subscription implements a generic notification dispatcher: a
// table of filter-gated subscriptions, each dispatched through its own
// bounded, drop-oldest-on-overflow queue so one slow subscriber cannot block
// delivery to the rest, grounded on the reference SubscriptionManager and on
// the teacher's bounded-channel worker patterns. It carries no knowledge of
// the event payload type so the knowledge package (which owns Event, Filter
// constructors, and the domain semantics) can depend on it without creating
// an import cycle.
package subscription

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/knowledgerepo/knowledge-repository/internal/metrics"
)

// Filter reports whether a delivered value matches a subscription's
// interest.
type Filter[T any] interface {
	Matches(v T) bool
}

// FilterFunc adapts a function to a Filter.
type FilterFunc[T any] func(v T) bool

func (f FilterFunc[T]) Matches(v T) bool { return f(v) }

// Handler processes one delivered value. It runs on the subscription's own
// dispatch goroutine, so a slow handler only delays its own subscriber.
type Handler[T any] func(v T)

// DefaultQueueSize is the per-subscriber buffered-channel capacity used when
// a subscription doesn't specify one.
const DefaultQueueSize = 256

type subscriber[T any] struct {
	id        string
	filter    Filter[T]
	handler   Handler[T]
	queue     chan T
	done      chan struct{}
	dropCount int
	mu        sync.Mutex // guards dropCount
	logger    *zap.Logger
}

// Engine is the subscription table and dispatcher, generic over the event
// payload type T.
type Engine[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	nextID      uint64 // guarded by mu
	queueSize   int
	logger      *zap.Logger
}

// New creates a notification engine whose per-subscriber queues hold
// queueSize pending events before oldest-drop kicks in.
func New[T any](queueSize int) *Engine[T] {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Engine[T]{
		subscribers: make(map[string]*subscriber[T]),
		queueSize:   queueSize,
		logger:      zap.NewNop(),
	}
}

// WithLogger overrides the engine's default no-op logger. It logs, at debug
// level, every filter evaluation decision, and at warn level every handler
// panic recovered and every notification dropped for queue overflow.
func (e *Engine[T]) WithLogger(logger *zap.Logger) *Engine[T] {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// Subscribe registers handler to receive every future event matching filter,
// and starts its dedicated dispatch goroutine. The returned id is used to
// Unsubscribe; ids are the decimal form of a per-engine counter, so each is
// numerically greater than the one issued before it. A nil filter matches
// everything.
func (e *Engine[T]) Subscribe(filter Filter[T], handler Handler[T]) string {
	sub := &subscriber[T]{
		filter:  filter,
		handler: handler,
		queue:   make(chan T, e.queueSize),
		done:    make(chan struct{}),
		logger:  e.logger,
	}

	e.mu.Lock()
	e.nextID++
	id := strconv.FormatUint(e.nextID, 10)
	sub.id = id
	e.subscribers[id] = sub
	e.mu.Unlock()

	metrics.SubscriptionsActive.Inc()
	go sub.run()
	return id
}

// Unsubscribe removes a subscription and stops its dispatch goroutine once
// its queue drains. Returns false if id was not a live subscription.
func (e *Engine[T]) Unsubscribe(id string) bool {
	e.mu.Lock()
	sub, ok := e.subscribers[id]
	if ok {
		delete(e.subscribers, id)
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	metrics.SubscriptionsActive.Dec()
	metrics.SubscriptionQueueDepth.DeleteLabelValues(id)
	close(sub.done)
	return true
}

// DropCount reports how many events have been dropped for a subscriber due
// to queue overflow (0 if the subscriber id is unknown).
func (e *Engine[T]) DropCount(id string) int {
	e.mu.RLock()
	sub, ok := e.subscribers[id]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.dropCount
}

// Count returns the number of live subscriptions.
func (e *Engine[T]) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}

// Publish delivers v to every subscriber whose filter matches it. Delivery
// to each subscriber is queued independently: a full queue drops its oldest
// pending event to make room, rather than blocking the publisher or any
// other subscriber.
func (e *Engine[T]) Publish(v T) {
	e.mu.RLock()
	targets := make([]*subscriber[T], 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		matched := sub.filter == nil || sub.filter.Matches(v)
		if e.logger.Core().Enabled(zap.DebugLevel) {
			e.logger.Debug("filter evaluation", zap.String("subscription_id", sub.id), zap.Bool("matched", matched))
		}
		if matched {
			targets = append(targets, sub)
		}
	}
	e.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(v)
	}
}

func (s *subscriber[T]) enqueue(v T) {
	for {
		select {
		case s.queue <- v:
			metrics.SubscriptionQueueDepth.WithLabelValues(s.id).Set(float64(len(s.queue)))
			return
		default:
		}

		// Queue full: drop the oldest pending event and retry.
		select {
		case <-s.queue:
			s.mu.Lock()
			s.dropCount++
			s.mu.Unlock()
			metrics.SubscriptionDropsTotal.WithLabelValues(s.id).Inc()
			s.logger.Warn("dropped notification due to full subscriber queue", zap.String("subscription_id", s.id))
		default:
			// Raced with the dispatcher draining it; just retry the send.
		}
	}
}

func (s *subscriber[T]) dispatch(ev T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("recovered from handler panic",
				zap.String("subscription_id", s.id),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(ev)
}

func (s *subscriber[T]) run() {
	for {
		select {
		case ev := <-s.queue:
			s.dispatch(ev)
			metrics.SubscriptionQueueDepth.WithLabelValues(s.id).Set(float64(len(s.queue)))
		case <-s.done:
			// Drain whatever is left before exiting, preserving order.
			for {
				select {
				case ev := <-s.queue:
					s.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}
