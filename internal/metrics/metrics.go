// Package metrics provides Prometheus metrics for the Paygrid service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal tracks inbound HTTP requests by route and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paygrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// PayslipsTotal tracks payslip computations by outcome
	PayslipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygrid",
			Subsystem: "payslip",
			Name:      "computed_total",
			Help:      "Total number of payslip computations by status",
		},
		[]string{"tenant_id", "mode", "status"},
	)

	// PayslipDuration tracks payslip computation duration
	PayslipDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paygrid",
			Subsystem: "payslip",
			Name:      "duration_seconds",
			Help:      "Duration of payslip computations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"mode"},
	)

	// PayslipWarnings tracks warnings raised while computing payslips
	PayslipWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygrid",
			Subsystem: "payslip",
			Name:      "warnings_total",
			Help:      "Total number of payslip warnings such as dangling references",
		},
		[]string{"tenant_id"},
	)

	// ConfigurationsSaved tracks configuration saves and deletes
	ConfigurationsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygrid",
			Subsystem: "configuration",
			Name:      "changes_total",
			Help:      "Total number of configuration changes by operation",
		},
		[]string{"tenant_id", "operation"},
	)

	// ValidationIssues tracks configuration validation findings by severity
	ValidationIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygrid",
			Subsystem: "configuration",
			Name:      "validation_issues_total",
			Help:      "Total number of configuration validation issues by severity",
		},
		[]string{"severity"},
	)

	// CacheLookups tracks configuration cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygrid",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of configuration cache lookups by result",
		},
		[]string{"result"},
	)

	// RuleEvaluations tracks ad-hoc rule chain and bracket evaluations
	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygrid",
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Total number of ad-hoc rule evaluations by kind and status",
		},
		[]string{"kind", "status"},
	)

	// WorkerJobsInFlight tracks payslip requests currently being processed
	WorkerJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paygrid",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of payslip requests currently being processed",
		},
	)
)

// Payslip computation modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// RecordHTTPRequest records an inbound HTTP request metric
func RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordPayslip records a payslip computation metric
func RecordPayslip(tenantID, mode, status string, warnings int, durationSeconds float64) {
	PayslipsTotal.WithLabelValues(tenantID, mode, status).Inc()
	PayslipDuration.WithLabelValues(mode).Observe(durationSeconds)
	if warnings > 0 {
		PayslipWarnings.WithLabelValues(tenantID).Add(float64(warnings))
	}
}

// RecordConfigurationChange records a configuration save or delete
func RecordConfigurationChange(tenantID, operation string) {
	ConfigurationsSaved.WithLabelValues(tenantID, operation).Inc()
}

// RecordValidationIssue records one validation finding
func RecordValidationIssue(severity string) {
	ValidationIssues.WithLabelValues(severity).Inc()
}

// RecordCacheLookup records a configuration cache lookup
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordRuleEvaluation records an ad-hoc rule evaluation
func RecordRuleEvaluation(kind, status string) {
	RuleEvaluations.WithLabelValues(kind, status).Inc()
}
