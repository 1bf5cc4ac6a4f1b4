// Package metrics holds the Prometheus instruments for remote calls. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wallpapers/pkg/fault"
	"wallpapers/pkg/retry"
)

const namespace = "wallpapers"

type Metrics struct {
	operations    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_operations_total",
			Help:      "Remote operations by component, operation and outcome.",
		}, []string{"component", "op", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_attempt_failures_total",
			Help:      "Failed attempts by component, operation and error class.",
		}, []string{"component", "op", "class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_operation_seconds",
			Help:      "Wall time of remote operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "op"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating object deletions by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User notifications by class and whether they were delivered.",
		}, []string{"class", "delivered"}),
	}
	reg.MustRegister(m.operations, m.failures, m.duration, m.compensations, m.notifications)
	return m
}

// Observer returns a retry observer that counts failed attempts.
func (m *Metrics) Observer(component string) retry.Observer {
	return func(a retry.Attempt) {
		if m == nil {
			return
		}
		m.failures.WithLabelValues(component, a.Op, a.Class.String()).Inc()
	}
}

// Done records the outcome and duration of one operation.
func (m *Metrics) Done(component, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = fault.Classify(err).String()
	}
	m.operations.WithLabelValues(component, op, outcome).Inc()
	m.duration.WithLabelValues(component, op).Observe(time.Since(start).Seconds())
}

// Compensation counts a compensating delete; outcome is "ok", "failed" or "queued".
func (m *Metrics) Compensation(outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

// Notification counts a user notification.
func (m *Metrics) Notification(class fault.Class, delivered bool) {
	if m == nil {
		return
	}
	d := "false"
	if delivered {
		d = "true"
	}
	m.notifications.WithLabelValues(class.String(), d).Inc()
}
