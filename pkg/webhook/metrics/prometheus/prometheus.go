// Package prometheus provides a Prometheus implementation of the
// webhook.Metrics interface.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements webhook.Metrics using Prometheus collectors.
type Metrics struct {
	events         *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	retryScheduled *prometheus.CounterVec
	deadLettered   *prometheus.CounterVec
	reclaimed      prometheus.Counter
}

// New creates Prometheus metrics under the given namespace and registers
// them with the registerer. Pass prometheus.DefaultRegisterer for the default
// registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook dispatch outcomes by provider, event type and outcome.",
		}, []string{"provider", "event_type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Handler processing duration by provider and event type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),
		retryScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "retries_scheduled_total",
			Help:      "Retries scheduled by provider and attempt number.",
		}, []string{"provider", "attempt"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "dead_lettered_total",
			Help:      "Events escalated to the dead letter queue.",
		}, []string{"provider", "event_type"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "reclaimed_total",
			Help:      "Stuck processing events reclaimed by the watchdog.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.events, m.duration, m.retryScheduled, m.deadLettered, m.reclaimed)
	}
	return m
}

func (m *Metrics) RecordEvent(provider, eventType, outcome string) {
	m.events.WithLabelValues(provider, eventType, outcome).Inc()
}

func (m *Metrics) RecordProcessingDuration(provider, eventType string, d time.Duration) {
	m.duration.WithLabelValues(provider, eventType).Observe(d.Seconds())
}

func (m *Metrics) RecordRetryScheduled(provider string, attempt int, delay time.Duration) {
	m.retryScheduled.WithLabelValues(provider, strconv.Itoa(attempt)).Inc()
}

func (m *Metrics) RecordDeadLetter(provider, eventType string) {
	m.deadLettered.WithLabelValues(provider, eventType).Inc()
}

func (m *Metrics) RecordReclaimed(count int) {
	m.reclaimed.Add(float64(count))
}
