// Package metrics exposes Prometheus instrumentation for a running
// imapwatch session: command round-trips, fetch-stage durations, and
// delivered/dropped message counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapwatch_commands_sent_total",
		Help: "Total IMAP commands written to the transport, by command verb.",
	}, []string{"command"})

	TaggedResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapwatch_tagged_responses_total",
		Help: "Total tagged responses received, by status.",
	}, []string{"status"})

	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapwatch_phase_transitions_total",
		Help: "Total connection phase transitions, by resulting phase.",
	}, []string{"phase"})

	FetchStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imapwatch_fetch_stage_duration_seconds",
		Help:    "Time spent in each fetch pipeline stage, per message.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imapwatch_messages_delivered_total",
		Help: "Total decoded messages delivered to at least one subscriber.",
	})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapwatch_messages_dropped_total",
		Help: "Total messages discarded before full delivery, by reason.",
	}, []string{"reason"})

	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imapwatch_parse_errors_total",
		Help: "Total packets that failed to parse.",
	})

	IdleRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imapwatch_idle_rounds_total",
		Help: "Total IDLE/DONE round trips completed.",
	})
)

// RecordCommand records one dispatched command by its verb (e.g. "LOGIN").
func RecordCommand(verb string) {
	CommandsSent.WithLabelValues(verb).Inc()
}

// RecordTaggedResponse records a tagged response outcome.
func RecordTaggedResponse(status string) {
	TaggedResponses.WithLabelValues(status).Inc()
}

// RecordPhase records a transition into the given phase.
func RecordPhase(phase string) {
	PhaseTransitions.WithLabelValues(phase).Inc()
}

// RecordFetchStage records the duration spent in a fetch pipeline stage.
func RecordFetchStage(stage string, seconds float64) {
	FetchStageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordDropped records a message discarded without full delivery.
func RecordDropped(reason string) {
	MessagesDropped.WithLabelValues(reason).Inc()
}
