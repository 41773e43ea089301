// Package metrics exposes Prometheus instrumentation for a running
// crawler: queue/cache gauges, a processed counter and a spoil-action
// counter, served over HTTP for scraping.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge and counter a crawler updates over its
// lifetime. All fields are safe for concurrent use, per the
// prometheus client's own guarantees.
type Metrics struct {
	Queued       prometheus.Gauge
	Active       prometheus.Gauge
	Cached       prometheus.Gauge
	Processed    prometheus.Counter
	SpoilDeleted prometheus.Counter
}

// New creates and registers a Metrics instance under namespace. Two
// crawlers in the same process must use distinct namespaces or
// registration panics, matching promauto's default behavior.
func New(namespace string) *Metrics {
	return &Metrics{
		Queued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_references",
			Help:      "Number of references currently queued for processing.",
		}),
		Active: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_references",
			Help:      "Number of references currently dequeued and in flight.",
		}),
		Cached: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_references",
			Help:      "Number of cached references left over from the prior run.",
		}),
		Processed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processed_references_total",
			Help:      "Total number of references finalized, across all terminal states.",
		}),
		SpoilDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spoil_deleted_total",
			Help:      "Total number of committed documents removed by the spoil policy.",
		}),
	}
}

// SampleStore snapshots the store's queue and cache sizes into the
// gauges. cmd/collector calls it from its own fixed two-second ticker,
// independent of the ProgressReporter's interval.
func (m *Metrics) SampleStore(queued, active, cached int) {
	m.Queued.Set(float64(queued))
	m.Active.Set(float64(active))
	m.Cached.Set(float64(cached))
}

// Server wraps an http.Server exposing the default Prometheus
// registry on /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics server bound to addr. It does not start
// listening until Start is called.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server until it fails or is shut down. It returns
// http.ErrServerClosed on a clean Shutdown, matching net/http's own
// convention.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, per ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
