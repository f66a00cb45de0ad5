// Package telemetry exposes the Prometheus counters for the observable
// failure modes of the pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MalformedRows counts historian rows dropped because they could not
	// be parsed.
	MalformedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extrusight_malformed_rows_total",
		Help: "Historian rows dropped as malformed.",
	}, []string{"machine"})

	// PollErrors counts failed historian fetches by machine.
	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extrusight_poll_errors_total",
		Help: "Failed historian polls.",
	}, []string{"machine"})

	// DroppedEvents counts sink events dropped on timeout or full buffers.
	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extrusight_dropped_events_total",
		Help: "Sink events dropped because a subscriber was too slow.",
	}, []string{"type"})

	// SamplesIngested counts baseline samples persisted during learning.
	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extrusight_baseline_samples_ingested_total",
		Help: "Baseline samples persisted while learning.",
	}, []string{"profile"})

	// SampleErrors counts baseline sample persistence failures; these are
	// retriable and the poller keeps running.
	SampleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extrusight_baseline_sample_errors_total",
		Help: "Baseline sample persistence failures.",
	}, []string{"profile"})

	// StateTransitions counts committed state transitions by machine and
	// target state.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extrusight_state_transitions_total",
		Help: "Committed machine state transitions.",
	}, []string{"machine", "to_state"})

	// LogWriteErrors counts failures writing the transition and material
	// logs; both are fire-and-forget.
	LogWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extrusight_log_write_errors_total",
		Help: "Failures appending to the state-transition or material-change logs.",
	}, []string{"log"})
)
