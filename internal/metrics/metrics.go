package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Knowledge repository metrics for production monitoring
var (
	// Publish/update/delete/search throughput and latency
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgerepo_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"}, // operation: publish/update/delete/search; status: success/failure
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledgerepo_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~0.82s
		},
		[]string{"operation"},
	)

	// Search
	SearchResultsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledgerepo_search_results_returned",
			Help:    "Number of results returned per search call",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		},
		[]string{"query_type"}, // only "text" (Store.Search) is recorded
	)

	// Cache
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "knowledgerepo_cache_hits_total",
			Help: "Total number of cache hits on Get lookups",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "knowledgerepo_cache_misses_total",
			Help: "Total number of cache misses on Get lookups",
		},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "knowledgerepo_cache_size",
			Help: "Current number of items held in the bounded cache",
		},
	)

	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "knowledgerepo_cache_evictions_total",
			Help: "Total number of cache evictions due to capacity",
		},
	)

	// Subscription & notification engine
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "knowledgerepo_subscriptions_active",
			Help: "Current number of registered subscriptions",
		},
	)

	SubscriptionQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "knowledgerepo_subscription_queue_depth",
			Help: "Per-subscriber notification queue depth",
		},
		[]string{"subscription_id"},
	)

	SubscriptionDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgerepo_subscription_drops_total",
			Help: "Total number of notifications dropped due to a full subscriber queue",
		},
		[]string{"subscription_id"},
	)

	// Event bus
	EventBusMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgerepo_eventbus_messages_total",
			Help: "Total number of event-bus messages processed",
		},
		[]string{"event", "outcome"}, // outcome: handled/dropped_malformed
	)

	// Mobile critical-updates push facet
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "knowledgerepo_websocket_connections",
			Help: "Current number of live WebSocket connections on the critical-updates push facet",
		},
	)

	WebSocketPushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgerepo_websocket_pushes_total",
			Help: "Total number of critical-update frames pushed to WebSocket clients",
		},
		[]string{"outcome"}, // sent/dropped
	)

	// Validator
	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgerepo_validation_failures_total",
			Help: "Total number of content validation failures",
		},
		[]string{"topic"},
	)
)
