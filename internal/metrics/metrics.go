package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
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

	// Mutations counts itinerary mutations by kind and outcome
	Mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "itinerary_mutations_total", Help: "Itinerary mutations by kind and outcome."},
		[]string{"kind", "outcome"},
	)
	// RippleShifts observes per-reorder downstream shift counts
	RippleShifts = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "ripple_shifted_items", Help: "Items re-timed per auto-shift reorder.", Buckets: []float64{0, 1, 2, 3, 5, 8, 13}},
	)
	// DirectionsLookups counts travel-time lookups by source and outcome
	DirectionsLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "directions_lookups_total", Help: "Travel-time lookups by source and outcome."},
		[]string{"source", "outcome"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Mutations)
		Registry.MustRegister(RippleShifts)
		Registry.MustRegister(DirectionsLookups)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
