// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive  prometheus.Gauge
	AuthTotal          *prometheus.CounterVec // strategy, result
	EventsTotal        *prometheus.CounterVec // event, result
	BroadcastDelivered prometheus.Counter
	DeliveryFailures   prometheus.Counter
	RateLimited        *prometheus.CounterVec // category
	ClusterRecords     *prometheus.CounterVec // direction
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collab_connections_active",
			Help: "Authenticated connections held by this process",
		}),
		AuthTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_auth_total",
			Help: "Handshake outcomes by strategy",
		}, []string{"strategy", "result"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_events_total",
			Help: "Inbound client events by name and result",
		}, []string{"event", "result"}),
		BroadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_broadcast_deliveries_total",
			Help: "Frames handed to local connections by room broadcasts",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_delivery_failures_total",
			Help: "Local deliveries that failed during a broadcast",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_rate_limited_total",
			Help: "Events rejected by the rate limiter",
		}, []string{"category"}),
		ClusterRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_cluster_records_total",
			Help: "Broadcast records exchanged over the cluster channel",
		}, []string{"direction"}),
	}
	registry.MustRegister(
		m.ConnectionsActive,
		m.AuthTotal,
		m.EventsTotal,
		m.BroadcastDelivered,
		m.DeliveryFailures,
		m.RateLimited,
		m.ClusterRecords,
	)
	return m
}

// NewDefault registers on a fresh registry together with the Go runtime and
// process collectors.
func NewDefault() *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(r)
}

// Discard is for callers that do not export metrics, such as tests.
func Discard() *Metrics { return New(prometheus.NewRegistry()) }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
