// Package metrics exposes Prometheus collectors for the session core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry so several sessions
// (and tests) can live in one process.
type Metrics struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	duplicates  prometheus.Counter
	unread      prometheus.Gauge
	transitions *prometheus.CounterVec
	pollErrors  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goopchat_events_total",
			Help: "Inbound channel events by name.",
		}, []string{"event"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goopchat_events_duplicate_total",
			Help: "Pushed messages dropped as already processed.",
		}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goopchat_unread_total",
			Help: "Sum of unread counters across conversations.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goopchat_call_transitions_total",
			Help: "Call state transitions by target state.",
		}, []string{"to"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goopchat_poll_errors_total",
			Help: "Failed history fetches.",
		}),
	}
	m.reg.MustRegister(m.events, m.duplicates, m.unread, m.transitions, m.pollErrors)
	return m
}

func (m *Metrics) Event(name string)        { m.events.WithLabelValues(name).Inc() }
func (m *Metrics) Duplicate()               { m.duplicates.Inc() }
func (m *Metrics) SetUnread(total int)      { m.unread.Set(float64(total)) }
func (m *Metrics) CallTransition(to string) { m.transitions.WithLabelValues(to).Inc() }
func (m *Metrics) PollError()               { m.pollErrors.Inc() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
