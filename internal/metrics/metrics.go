// Package metrics exposes Prometheus instruments for chain execution.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
)

// Execution outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Drop reasons.
const (
	ReasonUnknownGroup    = "unknown_group"
	ReasonTypeMismatch    = "type_mismatch"
	ReasonMissingProperty = "missing_property"
	ReasonOther           = "other"
)

var (
	// executions counts chain executions.
	// Labels: outcome (succeeded, rejected, failed)
	executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lattice",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "Chain executions by outcome",
	}, []string{"outcome"})

	// stepLatency measures how long a handler takes to return its result.
	// Lazy results are not included.
	// Labels: operation
	stepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lattice",
		Subsystem: "executor",
		Name:      "step_duration_seconds",
		Help:      "Operation handler latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})

	// droppedElements counts elements removed from a stream by a per-element error.
	// Labels: reason
	droppedElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lattice",
		Subsystem: "pipeline",
		Name:      "dropped_elements_total",
		Help:      "Elements dropped by per-element errors",
	}, []string{"reason"})

	// addedElements counts elements written by AddElements.
	addedElements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lattice",
		Subsystem: "executor",
		Name:      "added_elements_total",
		Help:      "Elements written to the backend",
	})
)

// RecordExecution counts one execution with the given outcome.
func RecordExecution(outcome string) {
	executions.WithLabelValues(outcome).Inc()
}

// RecordStep records the handler latency of one step.
func RecordStep(operation string, d time.Duration) {
	stepLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordDropped counts one element dropped because of err.
func RecordDropped(err error) {
	droppedElements.WithLabelValues(Reason(err)).Inc()
}

// RecordAdded counts n elements written.
func RecordAdded(n int) {
	addedElements.Add(float64(n))
}

// Reason maps a per-element error to its drop reason label.
func Reason(err error) string {
	switch {
	case errors.Is(err, coreerr.ErrUnknownGroup):
		return ReasonUnknownGroup
	case errors.Is(err, coreerr.ErrTypeMismatch):
		return ReasonTypeMismatch
	case errors.Is(err, coreerr.ErrMissingProperty):
		return ReasonMissingProperty
	}
	return ReasonOther
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
