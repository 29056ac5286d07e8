// Package metrics holds the Prometheus collectors of the record server.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gradebook"

// Metrics groups the server's collectors
type Metrics struct {
	openConnections  prometheus.Gauge
	acceptedTotal    prometheus.Counter
	requestsTotal    *prometheus.CounterVec
	validationsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Client connections currently being served.",
		}),
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Client connections accepted since start.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests processed, by action and status.",
		}, []string{"action", "status"}),
		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Course code validations, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.openConnections, m.acceptedTotal, m.requestsTotal, m.validationsTotal)
	}
	return m
}

// ConnectionOpened records an accepted connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.acceptedTotal.Inc()
	m.openConnections.Inc()
}

// ConnectionClosed records a connection going away
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.openConnections.Dec()
}

// Request records one processed request
func (m *Metrics) Request(action, status string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.requestsTotal.WithLabelValues(action, status).Inc()
}

// Validation records one course validation outcome
func (m *Metrics) Validation(outcome string) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(outcome).Inc()
}
