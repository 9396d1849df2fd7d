package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconcile outcomes.
const (
	OutcomeLocked  = "locked"
	OutcomeHealthy = "healthy"
	OutcomeStarted = "started"
	OutcomeBusy    = "busy"
	OutcomeFailed  = "failed"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepalive",
			Name:      "reconcile_total",
			Help:      "Reconciliation runs by target and outcome.",
		}, []string{"target", "outcome"},
	)
	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keepalive",
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of a reconciliation run, including backoff waits.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"target"},
	)
	startActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepalive",
			Name:      "start_actions_total",
			Help:      "Start actions issued against the control plane.",
		}, []string{"target"},
	)
	schedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepalive",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks, split into window hits and skips.",
		}, []string{"result"},
	)
	taskErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepalive",
			Name:      "task_errors_total",
			Help:      "Failed background tasks by source.",
		}, []string{"source"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{reconcileTotal, reconcileDuration, startActions, schedulerTicks, taskErrors}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func ObserveReconcile(target, outcome string, d time.Duration) {
	if regOK.Load() {
		reconcileTotal.WithLabelValues(target, outcome).Inc()
		reconcileDuration.WithLabelValues(target).Observe(d.Seconds())
	}
}

func IncStartAction(target string) {
	if regOK.Load() {
		startActions.WithLabelValues(target).Inc()
	}
}

func IncSchedulerTick(result string) {
	if regOK.Load() {
		schedulerTicks.WithLabelValues(result).Inc()
	}
}

func IncTaskError(source string) {
	if regOK.Load() {
		taskErrors.WithLabelValues(source).Inc()
	}
}
