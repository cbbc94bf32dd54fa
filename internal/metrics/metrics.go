// Package metrics holds the service's Prometheus collectors, registered on
// the default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_events_ingested_total",
		Help: "Events written to the events table",
	})

	EdgesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_edges_written_total",
		Help: "Identity edges appended to the graph, by method",
	}, []string{"method"})

	Merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_alias_merges_total",
		Help: "Alias merges run, by source",
	}, []string{"source"})

	ClosureDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identity_closure_duration_seconds",
		Help:    "Duration of linked-identifier closure runs",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	}, []string{"outcome"})

	ClosureIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "identity_closure_iterations",
		Help:    "Store queries issued per closure run",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	Erasures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_erasure_requests_total",
		Help: "Erasure requests accepted",
	})

	ProfileCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_profile_cache_total",
		Help: "Profile cache lookups, by result",
	}, []string{"result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identity_http_request_duration_seconds",
		Help:    "HTTP request latency, by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
