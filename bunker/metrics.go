package bunker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "bunker46"
	metricsSubsystem = "engine"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "rpc_requests_total",
		Help:      "Total NIP-46 RPC requests dispatched, by method and result.",
	}, []string{"method", "result"})

	rpcDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "rpc_duration_seconds",
		Help:      "Wall-clock duration of RPC dispatch, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	decryptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "decrypt_total",
		Help:      "Inbound decrypt attempts, by scheme and status.",
	}, []string{"scheme", "status"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "events_dropped_total",
		Help:      "Inbound events dropped without a response, by reason.",
	}, []string{"reason"})

	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "response_publish_total",
		Help:      "Response publish outcomes across the relay set.",
	}, []string{"status"})

	relayConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "relay_connects_total",
		Help:      "Relay connection attempts from listeners, by status.",
	}, []string{"status"})

	activeListenersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "active_listeners",
		Help:      "Number of signer keys with an active relay listener.",
	})

	pendingSecretsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "pending_secrets",
		Help:      "Number of unconsumed pairing secrets awaiting connect.",
	})
)

const (
	statusOK      = "ok"
	statusError   = "error"
	resultOK      = "ok"
	resultError   = "error"
	resultDenied  = "denied"
	reasonDecrypt = "undecryptable"
	reasonParse   = "malformed_request"
	reasonSelf    = "own_event"
	reasonStorage = "storage_error"
)
