package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the realtime service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Connections is the number of live realtime connections on this node
	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "realtime_connections", Help: "Live realtime connections."},
	)
	// Subscriptions is the number of topic subscriptions held by this node
	Subscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "realtime_subscriptions", Help: "Active topic subscriptions."},
	)
	// Publishes counts publish calls by topic and origin (local or relay)
	Publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_publishes_total", Help: "Publishes by topic and origin."},
		[]string{"topic", "origin"},
	)
	// Deliveries counts per-subscriber outcomes: delivered, filtered, stale, failed
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_deliveries_total", Help: "Per-subscriber publish outcomes."},
		[]string{"outcome"},
	)
	// ShareLookups counts operation share cache lookups: hit, miss, shared, failed
	ShareLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_share_lookups_total", Help: "Operation share cache lookups by result."},
		[]string{"result"},
	)
	// Disconnects counts completed teardowns by close code
	Disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_disconnects_total", Help: "Connection teardowns by close code."},
		[]string{"code"},
	)
	// RateLimited counts inbound socket messages rejected by the per-connection limiter
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "realtime_rate_limited_total", Help: "Inbound messages rejected by rate limiting."},
	)
	// RelayDropped counts envelopes that never reached the cross-node relay
	RelayDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "realtime_relay_dropped_total", Help: "Envelopes dropped before or during relay forwarding."},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Connections)
		Registry.MustRegister(Subscriptions)
		Registry.MustRegister(Publishes)
		Registry.MustRegister(Deliveries)
		Registry.MustRegister(ShareLookups)
		Registry.MustRegister(Disconnects)
		Registry.MustRegister(RateLimited)
		Registry.MustRegister(RelayDropped)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
