// Package metrics registers the Prometheus collectors shared across the
// ingestion, correlation and response paths. Collectors register on the
// default registry; the serve command exposes them over /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edgewatch"

var (
	DatagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "datagrams_total",
		Help:      "Datagrams received, per listener.",
	}, []string{"listener"})

	DatagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "datagrams_dropped_total",
		Help:      "Datagrams dropped because the worker queue was full.",
	}, []string{"listener"})

	ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "parse_failures_total",
		Help:      "Datagrams that no parser accepted.",
	}, []string{"source"})

	EventsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "events_written_total",
		Help:      "Normalized events written to the document store.",
	}, []string{"source"})

	EventWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "event_write_failures_total",
		Help:      "Normalized events the document store refused.",
	}, []string{"source"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "dead_letter_total",
		Help:      "Payloads routed to the dead-letter index, per failure type.",
	}, []string{"type"})

	CorrelationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "correlation",
		Name:      "runs_total",
		Help:      "Correlation engine runs, per terminal status.",
	}, []string{"status"})

	CorrelationRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "correlation",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a full correlation run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	OffencesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "correlation",
		Name:      "offences_created_total",
		Help:      "Offences raised by correlation rules.",
	})

	ResponseSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "response",
		Name:      "steps_total",
		Help:      "Response pipeline steps executed, per action and outcome.",
	}, []string{"action", "outcome"})

	DeviceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "operations_total",
		Help:      "Device connector operations, per operation and outcome.",
	}, []string{"operation", "outcome"})
)
