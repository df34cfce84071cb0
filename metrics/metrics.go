package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FahadPatwary/seriousserver/domain"
)

const (
	namespace    = "mediasync"
	unknownLabel = "unknown"
)

// Metrics holds the relay's collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Messages    *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	Broadcasts  prometheus.Counter
	Resyncs     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound frames by message type.",
		}, []string{"type"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Frames answered with roomError, by error code.",
		}, []string{"code"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "syncMedia frames handed to room members.",
		}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Cached states delivered to joining connections.",
		}),
	}
	reg.MustRegister(m.Connections, m.Rooms, m.Messages, m.Rejected, m.Broadcasts, m.Resyncs)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.Rooms.Set(float64(n))
	}
}

// Message counts an inbound frame. Types clients may not send share one
// label so the series count stays fixed.
func (m *Metrics) Message(msgType string) {
	if m == nil {
		return
	}
	if !domain.IsInbound(msgType) {
		msgType = unknownLabel
	}
	m.Messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Reject(code string) {
	if m != nil {
		m.Rejected.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil {
		m.Broadcasts.Add(float64(n))
	}
}

func (m *Metrics) Resync() {
	if m != nil {
		m.Resyncs.Inc()
	}
}

// Handler exposes the given gatherer at /metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
