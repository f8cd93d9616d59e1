// Package metrics holds the Prometheus instrumentation for the signal core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors exported on /metrics
type Metrics struct {
	registry *prometheus.Registry

	signalsCreated   *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	assignmentsTotal *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	deliveriesTotal  *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	passDuration     *prometheus.HistogramVec
	passErrors       *prometheus.CounterVec
	clustersCurrent  prometheus.Gauge
	openSignals      *prometheus.GaugeVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		signalsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resqnet_signals_created_total",
				Help: "Signals ingested, by priority",
			},
			[]string{"priority"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resqnet_transitions_total",
				Help: "Status transition requests by source, target and result",
			},
			[]string{"from", "to", "result"},
		),
		assignmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resqnet_assignments_total",
				Help: "Assignment operations by kind and result",
			},
			[]string{"operation", "result"},
		),
		escalationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resqnet_escalations_total",
				Help: "Escalations applied, by signal priority",
			},
			[]string{"priority"},
		),
		deliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resqnet_notification_deliveries_total",
				Help: "Channel delivery attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		deliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resqnet_notification_delivery_seconds",
				Help:    "Time spent in a single channel send",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resqnet_job_pass_seconds",
				Help:    "Duration of periodic passes",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"job"},
		),
		passErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resqnet_job_item_errors_total",
				Help: "Per-item failures skipped inside periodic passes",
			},
			[]string{"job"},
		),
		clustersCurrent: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "resqnet_clusters",
				Help: "Clusters found by the last clustering pass",
			},
		),
		openSignals: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "resqnet_open_signals",
				Help: "Open signals by status, as seen by the last clustering pass",
			},
			[]string{"status"},
		),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SignalCreated(priority string) {
	if m == nil {
		return
	}
	m.signalsCreated.WithLabelValues(priority).Inc()
}

func (m *Metrics) Transition(from, to string, err error) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, result(err)).Inc()
}

func (m *Metrics) Assignment(operation string, err error) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(operation, result(err)).Inc()
}

func (m *Metrics) Escalation(priority string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(priority).Inc()
}

func (m *Metrics) Delivery(channel, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(channel, outcome).Inc()
	if took > 0 {
		m.deliveryDuration.WithLabelValues(channel).Observe(took.Seconds())
	}
}

func (m *Metrics) Pass(job string, took time.Duration, itemErrors int) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(job).Observe(took.Seconds())
	if itemErrors > 0 {
		m.passErrors.WithLabelValues(job).Add(float64(itemErrors))
	}
}

// Clusters records the outcome of a clustering pass
func (m *Metrics) Clusters(count int, openByStatus map[string]int) {
	if m == nil {
		return
	}
	m.clustersCurrent.Set(float64(count))
	m.openSignals.Reset()
	for status, n := range openByStatus {
		m.openSignals.WithLabelValues(status).Set(float64(n))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
