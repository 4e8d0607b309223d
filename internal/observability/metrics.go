package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	busPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Messages accepted for fan-out.",
		},
		[]string{"transport", "topic"},
	)
	busDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "delivered_total",
			Help:      "Messages handed to client handlers.",
		},
		[]string{"transport", "topic"},
	)
	busDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Messages dropped because the client was closed or not subscribed.",
		},
		[]string{"transport", "topic"},
	)
	coordinatorMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "messages_total",
			Help:      "Inbound coordinator messages by outcome.",
		},
		[]string{"topic", "result"},
	)
	coordinatorFreezes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "freezes_total",
			Help:      "Freeze signals broadcast.",
		},
	)
	coordinatorPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "phase",
			Help:      "Game phase: 0 collecting, 1 active, 2 ended.",
		},
	)
	coordinatorActors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "actors",
			Help:      "Actors currently in the game by role.",
		},
		[]string{"role"},
	)
	gamesEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "games_total",
			Help:      "Games ended by reason.",
		},
		[]string{"reason"},
	)
	agentTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "ticks_total",
			Help:      "Agent loop ticks by role and state.",
		},
		[]string{"role", "state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			busPublished, busDelivered, busDropped,
			coordinatorMessages, coordinatorFreezes, coordinatorPhase, coordinatorActors, gamesEnded,
			agentTicks,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordBusPublish(transport, topic string) {
	RegisterMetrics()
	busPublished.WithLabelValues(transport, topic).Inc()
}

func RecordBusDelivery(transport, topic string) {
	RegisterMetrics()
	busDelivered.WithLabelValues(transport, topic).Inc()
}

func RecordBusDrop(transport, topic string) {
	RegisterMetrics()
	busDropped.WithLabelValues(transport, topic).Inc()
}

// RecordCoordinatorMessage counts one inbound message; result is accepted,
// ignored or rejected.
func RecordCoordinatorMessage(topic, result string) {
	RegisterMetrics()
	coordinatorMessages.WithLabelValues(topic, result).Inc()
}

func RecordFreeze() {
	RegisterMetrics()
	coordinatorFreezes.Inc()
}

func SetPhase(ordinal int) {
	RegisterMetrics()
	coordinatorPhase.Set(float64(ordinal))
}

func SetActors(role string, n int) {
	RegisterMetrics()
	coordinatorActors.WithLabelValues(role).Set(float64(n))
}

func RecordGameEnd(reason string) {
	RegisterMetrics()
	gamesEnded.WithLabelValues(reason).Inc()
}

func RecordAgentTick(role, state string) {
	RegisterMetrics()
	agentTicks.WithLabelValues(role, state).Inc()
}
