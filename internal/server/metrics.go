package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hyperregistry/internal/api"
)

// metrics owns the server's Prometheus registry: request counters, a
// latency histogram, and live registry gauges.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperreg_http_requests_total",
			Help: "HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperreg_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	m.registry.MustRegister(m.requests, m.duration)

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hyperreg_entries_registered_total",
		Help: "Entries registered over the process lifetime.",
	}, func() float64 {
		if h := api.GetRegistry(); h != nil {
			return float64(h.Stats().TotalRegistered)
		}
		return 0
	}))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hyperreg_entries_active",
		Help: "Entries currently in active status.",
	}, func() float64 {
		if h := api.GetRegistry(); h != nil {
			return float64(h.Stats().TotalActive)
		}
		return 0
	}))
	return m
}

func (m *metrics) observe(method, path string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
