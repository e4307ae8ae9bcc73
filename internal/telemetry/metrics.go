package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ElementParseErrors counts Multi-Link elements rejected by the codec
	ElementParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "element_parse_errors_total",
			Help:      "Total number of Multi-Link elements rejected by the codec",
		},
		[]string{"source"},
	)

	// AIDAllocations counts AID allocation attempts by outcome
	AIDAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "aid_allocations_total",
			Help:      "Total number of AID allocation attempts",
		},
		[]string{"kind", "result"},
	)

	// PeerTransitions counts ML peer state transitions
	PeerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "peer_transitions_total",
			Help:      "Total number of ML peer state transitions",
		},
		[]string{"state"},
	)

	// FanoutFailures counts cross-link notifications that could not be posted
	FanoutFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "fanout_failures_total",
			Help:      "Total number of cross-link notifications that could not be posted",
		},
		[]string{"kind"},
	)

	// SetupRequests counts aggregated multi-chip setup requests
	SetupRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "setup_requests_total",
			Help:      "Total number of multi-chip setup requests sent",
		},
		[]string{"group"},
	)

	// ForcedTeardowns counts group teardowns that timed out
	ForcedTeardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "forced_teardowns_total",
			Help:      "Total number of group teardowns forced after a timeout",
		},
		[]string{"group"},
	)

	// NotificationsDelivered counts notifications handed to the MLME hooks
	NotificationsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "notifications_delivered_total",
			Help:      "Total number of cross-link notifications delivered to the MLME layer",
		},
		[]string{"kind", "result"},
	)

	// RadioMessages counts messages exchanged with the radio firmware
	RadioMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlomgr",
			Name:      "radio_messages_total",
			Help:      "Total number of multi-chip messages exchanged with the radio",
		},
		[]string{"op"},
	)

	// LiveDevices tracks MLD device contexts by role
	LiveDevices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mlomgr",
			Name:      "devices",
			Help:      "Number of live MLD device contexts",
		},
		[]string{"role"},
	)

	// LivePeers tracks ML peers that have not been freed
	LivePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mlomgr",
			Name:      "peers",
			Help:      "Number of live ML peers",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(ElementParseErrors)
		prometheus.DefaultRegisterer.Register(AIDAllocations)
		prometheus.DefaultRegisterer.Register(PeerTransitions)
		prometheus.DefaultRegisterer.Register(FanoutFailures)
		prometheus.DefaultRegisterer.Register(SetupRequests)
		prometheus.DefaultRegisterer.Register(ForcedTeardowns)
		prometheus.DefaultRegisterer.Register(NotificationsDelivered)
		prometheus.DefaultRegisterer.Register(RadioMessages)
		prometheus.DefaultRegisterer.Register(LiveDevices)
		prometheus.DefaultRegisterer.Register(LivePeers)
	})
}
