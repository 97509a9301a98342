// Package metrics exposes ALTEC's Prometheus instrumentation: admission
// outcomes, reclaim activity, and phase durations across all six
// components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionOutcomesTotal counts every Submit outcome by kind and
	// outcome (started, attached, skipped_recent_success).
	AdmissionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altec",
		Subsystem: "admission",
		Name:      "outcomes_total",
		Help:      "Count of admission outcomes by task kind and outcome.",
	}, []string{"kind", "outcome"})

	// ReclaimsTotal counts Tasks reclaimed from an expired lock by kind.
	ReclaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altec",
		Subsystem: "admission",
		Name:      "reclaims_total",
		Help:      "Count of RUNNING tasks reclaimed after lock expiry, by kind.",
	}, []string{"kind"})

	// TooManyReclaimsTotal counts Tasks finalized FAILED after exhausting
	// their reclaim budget.
	TooManyReclaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altec",
		Subsystem: "admission",
		Name:      "too_many_reclaims_total",
		Help:      "Count of tasks finalized FAILED after exceeding max reclaim attempts.",
	}, []string{"kind"})

	// PhaseDuration records wall-clock time spent inside a single phase
	// invocation, including its inner retry attempts.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "altec",
		Subsystem: "executor",
		Name:      "phase_duration_seconds",
		Help:      "Duration of a single pipeline phase execution.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"kind", "phase"})

	// PhaseFailuresTotal counts phase failures by kind, phase, and error
	// taxonomy kind.
	PhaseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altec",
		Subsystem: "executor",
		Name:      "phase_failures_total",
		Help:      "Count of phase failures by task kind, phase name, and error kind.",
	}, []string{"kind", "phase", "error_kind"})

	// TaskDuration records end-to-end wall-clock time from StartedAt to
	// terminal status, for completed or failed tasks.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "altec",
		Subsystem: "executor",
		Name:      "task_duration_seconds",
		Help:      "End-to-end task duration from start to terminal status.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 14),
	}, []string{"kind", "status"})

	// CredentialRefreshesTotal counts C6 refreshes issued on the polling
	// path.
	CredentialRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altec",
		Subsystem: "session",
		Name:      "credential_refreshes_total",
		Help:      "Count of client credentials refreshed on the polling path.",
	}, []string{"kind"})
)

// RecordAdmission records a single Submit outcome.
func RecordAdmission(kind, outcome string) {
	AdmissionOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordReclaim records a single lock reclaim.
func RecordReclaim(kind string) {
	ReclaimsTotal.WithLabelValues(kind).Inc()
}

// RecordTooManyReclaims records a Task exhausting its reclaim budget.
func RecordTooManyReclaims(kind string) {
	TooManyReclaimsTotal.WithLabelValues(kind).Inc()
}

// RecordPhase records a single phase's duration and, if errorKind is
// non-empty, its failure.
func RecordPhase(kind, phase string, duration time.Duration, errorKind string) {
	PhaseDuration.WithLabelValues(kind, phase).Observe(duration.Seconds())
	if errorKind != "" {
		PhaseFailuresTotal.WithLabelValues(kind, phase, errorKind).Inc()
	}
}

// RecordTaskTerminal records a Task's total duration once it reaches a
// terminal status.
func RecordTaskTerminal(kind, status string, duration time.Duration) {
	TaskDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// RecordCredentialRefresh records a single C6 credential refresh.
func RecordCredentialRefresh(kind string) {
	CredentialRefreshesTotal.WithLabelValues(kind).Inc()
}
