// Package metrics exposes escrow counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry records engine and relay outcomes. It implements
// engine.Recorder and outbox.DeliveryRecorder.
type Registry struct {
	registry         *prometheus.Registry
	operationsTotal  *prometheus.CounterVec
	transfersTotal   *prometheus.CounterVec
	transferredTotal *prometheus.CounterVec
	deliveredTotal   *prometheus.CounterVec
	backlog          *prometheus.GaugeVec
}

// New creates a Registry with every series registered.
func New() *Registry {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pescrow_operations_total",
		Help: "Escrow entry point calls by outcome",
	}, []string{"operation", "result"})

	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pescrow_transfers_total",
		Help: "Token transfers attempted by the escrow",
	}, []string{"kind", "result"})

	transferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pescrow_transferred_tokens_total",
		Help: "Token minor units moved by successful transfers",
	}, []string{"kind"})

	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pescrow_events_delivered_total",
		Help: "Event deliveries to outbox sinks",
	}, []string{"sink", "result"})

	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "p2pescrow_outbox_backlog",
		Help: "Committed events not yet accepted by a sink",
	}, []string{"sink"})

	r := prometheus.NewRegistry()
	r.MustRegister(ops, transfers, transferred, delivered, backlog)

	return &Registry{
		registry:         r,
		operationsTotal:  ops,
		transfersTotal:   transfers,
		transferredTotal: transferred,
		deliveredTotal:   delivered,
		backlog:          backlog,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Operation counts an entry point call, labelled by its error code.
func (m *Registry) Operation(name string, err error) {
	m.operationsTotal.WithLabelValues(name, domain.Code(err)).Inc()
}

// Transfer counts a token transfer and, on success, the amount moved.
func (m *Registry) Transfer(kind string, amount int64, err error) {
	m.transfersTotal.WithLabelValues(kind, result(err)).Inc()
	if err == nil && amount > 0 {
		m.transferredTotal.WithLabelValues(kind).Add(float64(amount))
	}
}

// Delivered counts one event delivery attempt.
func (m *Registry) Delivered(sink string, err error) {
	m.deliveredTotal.WithLabelValues(sink, result(err)).Inc()
}

// Backlog sets how far sink trails the outbox.
func (m *Registry) Backlog(sink string, n int) {
	m.backlog.WithLabelValues(sink).Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
