// Package observability wires the gateway's ambient Prometheus metrics:
// connection counts, per-stage pipeline latency and provider error rates.
// It intentionally carries no business logic — every instrument here is
// incremented/observed from the component that owns the corresponding
// event.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus collectors registered for a gatewayd
// process. All fields are safe for concurrent use.
type Metrics struct {
	ActiveSessions prometheus.Gauge

	SessionEvents *prometheus.CounterVec
	WSMessages    *prometheus.CounterVec
	WSWriteErrors prometheus.Counter

	ProviderErrors *prometheus.CounterVec

	FirstAudioLatency prometheus.Histogram
	TurnStageLatency  *prometheus.HistogramVec

	ToolCalls *prometheus.CounterVec

	QueueDepth *prometheus.GaugeVec
}

// NewMetrics registers and returns the gateway's metrics under namespace.
// Passing a nil registerer creates the collectors without registering them
// anywhere.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of device sessions currently connected.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Count of session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Count of websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "Count of websocket write failures.",
		}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Count of provider call failures by provider kind and error kind.",
		}, []string{"provider", "kind"}),
		FirstAudioLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_seconds",
			Help:      "Time from end-of-utterance to the first TTS audio frame.",
			Buckets:   prometheus.DefBuckets,
		}),
		TurnStageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_seconds",
			Help:      "Latency of a single pipeline stage within a conversational turn.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Count of tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Depth of an internal bounded channel, by queue name.",
		}, []string{"queue"}),
	}
}
