// Package metrics exposes Prometheus metrics for sync engines and the hub,
// and the liveness/readiness handler shared by both binaries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mapsync "github.com/dgnsrekt/mapsync/internal/sync"
	"github.com/dgnsrekt/mapsync/internal/ws"
)

const namespace = "mapsync"

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics of reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Engine records sync engine decisions. It implements sync.Recorder.
type Engine struct {
	emitted    *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	applied    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

var _ mapsync.Recorder = (*Engine)(nil)

// NewEngine registers the engine metrics of one endpoint with reg.
func NewEngine(reg prometheus.Registerer, endpoint string) *Engine {
	f := promauto.With(reg)
	labels := prometheus.Labels{"endpoint": endpoint}
	return &Engine{
		emitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "engine",
			Name:        "emitted_total",
			Help:        "View events published, by movement kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "engine",
			Name:        "suppressed_total",
			Help:        "Movement notifications not published, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		applied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "engine",
			Name:        "applied_total",
			Help:        "Inbound view events applied, by payload shape.",
			ConstLabels: labels,
		}, []string{"shape"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "engine",
			Name:        "dropped_total",
			Help:        "Events dropped, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
	}
}

func (e *Engine) Emitted(kind mapsync.MovementKind) { e.emitted.WithLabelValues(kind.String()).Inc() }
func (e *Engine) Suppressed(reason string)          { e.suppressed.WithLabelValues(reason).Inc() }
func (e *Engine) Applied(shape string)              { e.applied.WithLabelValues(shape).Inc() }
func (e *Engine) Dropped(reason string)             { e.dropped.WithLabelValues(reason).Inc() }

// Hub records hub traffic. It implements ws.Recorder.
type Hub struct {
	clients     prometheus.Gauge
	connections *prometheus.CounterVec
	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	slow        prometheus.Counter
}

var _ ws.Recorder = (*Hub)(nil)

// NewHub registers the hub metrics with reg.
func NewHub(reg prometheus.Registerer) *Hub {
	f := promauto.With(reg)
	return &Hub{
		clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections_total",
			Help:      "Websocket connections accepted, by subprotocol.",
		}, []string{"protocol"}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Messages published, by topic.",
		}, []string{"topic"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "delivered_total",
			Help:      "Messages queued for clients, by topic.",
		}, []string{"topic"}),
		slow: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "slow_consumers_total",
			Help:      "Clients disconnected because their send buffer was full.",
		}),
	}
}

func (h *Hub) ClientConnected(protocol string) {
	h.clients.Inc()
	h.connections.WithLabelValues(protocol).Inc()
}

func (h *Hub) ClientDisconnected()           { h.clients.Dec() }
func (h *Hub) Published(topic string)        { h.published.WithLabelValues(topic).Inc() }
func (h *Hub) Delivered(topic string, n int) { h.delivered.WithLabelValues(topic).Add(float64(n)) }
func (h *Hub) SlowConsumer()                 { h.slow.Inc() }
