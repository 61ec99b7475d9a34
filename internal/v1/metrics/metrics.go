package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaborative editing backend.
//
// Naming convention: namespace_subsystem_name
// - namespace: code_collab (application-level grouping)
// - subsystem: websocket, room, store, redis (feature-level grouping)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "code_collab",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active room hubs
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "code_collab",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of participants in each room
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "code_collab",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of WebSocket events processed
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_collab",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing inbound frames
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "code_collab",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// StoreRetries counts document-store attempts that had to be retried
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_collab",
		Subsystem: "store",
		Name:      "retries_total",
		Help:      "Document store operations retried after a transient failure",
	}, []string{"operation"})

	// OperationsTransformed counts edits that ran through the OT pipeline
	OperationsTransformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_collab",
		Subsystem: "room",
		Name:      "operations_transformed_total",
		Help:      "Edit operations transformed against a concurrent window",
	}, []string{"op_type"})

	// RateLimitExceeded counts requests rejected by a rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_collab",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected because a rate limit was reached",
	}, []string{"endpoint", "limit_type"})

	// CircuitBreakerState exposes the Redis breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "code_collab",
		Subsystem: "redis",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts calls rejected by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_collab",
		Subsystem: "redis",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected because the circuit breaker was open",
	}, []string{"service"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
