package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons reported to the metrics collector.
const (
	ReasonUnknownTarget = "unknown_target"
	ReasonUnknownType   = "unknown_type"
	ReasonMalformed     = "malformed"
	ReasonRateLimited   = "rate_limited"
	ReasonQueueFull     = "queue_full"
)

// Collector defines the interface for hub metrics collection
type Collector interface {
	ClientConnected()
	ClientDisconnected()
	MessageRelayed(messageType string)
	MessageDropped(reason string)
}

// NoopCollector discards all metrics.
type NoopCollector struct{}

func (NoopCollector) ClientConnected()      {}
func (NoopCollector) ClientDisconnected()   {}
func (NoopCollector) MessageRelayed(string) {}
func (NoopCollector) MessageDropped(string) {}

// PrometheusCollector implements Collector using a private Prometheus registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	activeClients   prometheus.Gauge
	connections     prometheus.Counter
	messagesRelayed *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_active_clients",
			Help: "Number of clients holding a rendezvous identity",
		}),

		connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_client_connections_total",
			Help: "Total number of rendezvous client connections",
		}),

		messagesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaling_relayed_messages_total",
				Help: "Total number of signaling messages relayed to a target",
			},
			[]string{"message_type"},
		),

		messagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaling_dropped_messages_total",
				Help: "Total number of signaling messages dropped by the hub",
			},
			[]string{"reason"},
		),
	}
}

func (p *PrometheusCollector) ClientConnected() {
	p.activeClients.Inc()
	p.connections.Inc()
}

func (p *PrometheusCollector) ClientDisconnected() {
	p.activeClients.Dec()
}

func (p *PrometheusCollector) MessageRelayed(messageType string) {
	p.messagesRelayed.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) MessageDropped(reason string) {
	p.messagesDropped.WithLabelValues(reason).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
