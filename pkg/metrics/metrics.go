// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AskRequests counts /ask requests by generate mode.
	AskRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemaseek_ask_requests_total",
		Help: "Number of ask requests handled, by generate mode.",
	}, []string{"mode"})

	// AskDuration observes end-to-end ask latency.
	AskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schemaseek_ask_duration_seconds",
		Help:    "End-to-end ask request duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"mode"})

	// LLMCalls counts structured asks by tier and outcome.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemaseek_llm_calls_total",
		Help: "Number of LLM structured asks, by tier and outcome.",
	}, []string{"tier", "outcome"})

	// MessagesSent counts streamed messages by type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemaseek_messages_sent_total",
		Help: "Number of stream messages emitted, by message type.",
	}, []string{"message_type"})

	// ConversationsStored counts persisted conversation turns.
	ConversationsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemaseek_conversations_stored_total",
		Help: "Number of conversation turns persisted.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
