// Package metrics exposes Prometheus instruments for detection, remediation and filing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FindingsDetected counts findings emitted by the detector.
	// Labels: type, severity
	FindingsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vat",
		Subsystem: "detector",
		Name:      "findings_total",
		Help:      "Total findings emitted by the error detector",
	}, []string{"type", "severity"})

	// HeuristicFailures counts swallowed errors of the optional heuristic pass.
	// Labels: source (lexical, llm)
	HeuristicFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vat",
		Subsystem: "detector",
		Name:      "heuristic_failures_total",
		Help:      "Heuristic pass failures that were logged and ignored",
	}, []string{"source"})

	// FixesApplied counts fix attempts by strategy and outcome.
	// Labels: strategy, outcome (applied, undone, or an error kind)
	FixesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vat",
		Subsystem: "remediation",
		Name:      "fixes_total",
		Help:      "Fix attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	// PenaltyAvoided sums penalty risk removed by applied fixes.
	PenaltyAvoided = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vat",
		Subsystem: "remediation",
		Name:      "penalty_avoided_total",
		Help:      "Sum of penalty risk avoided by applied fixes",
	})

	// HealthScore tracks the last computed health score per company.
	// Labels: company
	HealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vat",
		Subsystem: "remediation",
		Name:      "health_score",
		Help:      "Last computed compliance health score",
	}, []string{"company"})

	// FilingAttempts counts HTTP attempts against tax authorities.
	// Labels: country, outcome (ok, retry, client_error, transport_error)
	FilingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vat",
		Subsystem: "filing",
		Name:      "attempts_total",
		Help:      "HTTP attempts against tax authority APIs",
	}, []string{"country", "outcome"})

	// FilingLatency measures authority round trips.
	// Labels: country
	FilingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vat",
		Subsystem: "filing",
		Name:      "latency_seconds",
		Help:      "Authority API round-trip latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"country"})

	// Submissions counts logical submissions by final status.
	// Labels: country, status
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vat",
		Subsystem: "filing",
		Name:      "submissions_total",
		Help:      "Logical filing submissions by resulting status",
	}, []string{"country", "status"})
)
