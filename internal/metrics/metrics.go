package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	statements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teacup_report",
			Name:      "statements_total",
			Help:      "Number of SQL statements executed successfully per table.",
		}, []string{"table", "op"},
	)
	statementErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teacup_report",
			Name:      "statement_errors_total",
			Help:      "Number of failed SQL statements per table.",
		}, []string{"table", "op"},
	)
	warnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teacup_report",
			Name:      "warnings_total",
			Help:      "Number of callbacks that were logged and dropped.",
		}, []string{"operation"},
	)
	sessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teacup_report",
			Name:      "sessions_total",
			Help:      "Number of sessions started.",
		},
	)
	activeExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "teacup_report",
			Name:      "active_executions",
			Help:      "Executions registered in the current session that have not skipped or finished.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{statements, statementErrors, warnings, sessions, activeExecutions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by the report store.
// They no-op if Register hasn't been called.

func IncStatement(table, op string) {
	if regOK.Load() {
		statements.WithLabelValues(table, op).Inc()
	}
}

func IncStatementError(table, op string) {
	if regOK.Load() {
		statementErrors.WithLabelValues(table, op).Inc()
	}
}

func IncWarning(operation string) {
	if regOK.Load() {
		warnings.WithLabelValues(operation).Inc()
	}
}

func IncSession() {
	if regOK.Load() {
		sessions.Inc()
	}
}

func SetActiveExecutions(n int) {
	if regOK.Load() {
		activeExecutions.Set(float64(n))
	}
}
