// Package observability exposes Prometheus metrics for the chat server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	reg *prometheus.Registry

	// Messaging
	MessagesTotal   *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec

	// Ledger
	LedgerAppendsTotal prometheus.Counter
	LedgerHeight       prometheus.Gauge
	LedgerHealthy      prometheus.Gauge

	// Realtime
	QKDExchangesTotal   *prometheus.CounterVec
	RealtimeConnections prometheus.Gauge
	RealtimeEventsTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a registry with process and Go collectors and
// registers every metric on it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg)
}

// NewMetricsWith registers every metric on reg.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_messages_total",
				Help: "Messages accepted or rejected",
			},
			[]string{"kind", "status"},
		),

		DeliveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_deliveries_total",
				Help: "Realtime deliveries by outcome",
			},
			[]string{"status"},
		),

		LedgerAppendsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_ledger_appends_total",
				Help: "Blocks appended to the ledger",
			},
		),

		LedgerHeight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_ledger_height",
				Help: "Index of the last appended block plus one",
			},
		),

		LedgerHealthy: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_ledger_healthy",
				Help: "1 while the ledger validates, 0 in read-only mode",
			},
		),

		QKDExchangesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_qkd_exchanges_total",
				Help: "QKD exchanges by outcome",
			},
			[]string{"status"},
		),

		RealtimeConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_realtime_connections",
				Help: "Open realtime connections",
			},
		),

		RealtimeEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_realtime_events_total",
				Help: "Inbound realtime events",
			},
			[]string{"event"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route", "code"},
		),
	}
}

// RecordMessage counts a direct or group message by outcome.
func (m *Metrics) RecordMessage(kind, status string) {
	m.MessagesTotal.WithLabelValues(kind, status).Inc()
}

// RecordDelivery counts a realtime push.
func (m *Metrics) RecordDelivery(delivered bool) {
	status := "delivered"
	if !delivered {
		status = "offline"
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordBlock is a ledger append observer.
func (m *Metrics) RecordBlock(b model.Block) {
	m.LedgerAppendsTotal.Inc()
	m.LedgerHeight.Set(float64(b.Index + 1))
}

// SetLedgerHealthy is a ledger health subscriber.
func (m *Metrics) SetLedgerHealthy(ok bool) {
	if ok {
		m.LedgerHealthy.Set(1)
	} else {
		m.LedgerHealthy.Set(0)
	}
}

// RecordQKDExchange counts an exchange that started, completed or failed.
func (m *Metrics) RecordQKDExchange(status string) {
	m.QKDExchangesTotal.WithLabelValues(status).Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() { m.RealtimeConnections.Inc() }

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() { m.RealtimeConnections.Dec() }

// RecordEvent counts an inbound realtime event.
func (m *Metrics) RecordEvent(event string) {
	m.RealtimeEventsTotal.WithLabelValues(event).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(took.Seconds())
}

// Handler exposes the Prometheus metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
