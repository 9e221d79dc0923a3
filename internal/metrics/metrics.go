package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, route pattern and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "binfleet_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "binfleet_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	// RefreshOutcomes counts per-bin refresh results: refreshed, failed, skipped
	RefreshOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "binfleet_prediction_refresh_total", Help: "Per-bin prediction refresh outcomes."},
		[]string{"result"},
	)
	OracleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "binfleet_oracle_request_seconds", Help: "Prediction oracle call latency.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}},
		[]string{"status"},
	)

	SolverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "binfleet_solver_duration_seconds", Help: "Route solver wall time.", Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 3, 5}},
	)
	SolverDroppedStops = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "binfleet_solver_dropped_stops_total", Help: "Optional stops left out by the solver."},
	)
	RoutePlansSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "binfleet_route_plans_saved_total", Help: "Route plan writes by kind: created or reassigned."},
		[]string{"kind"},
	)
)

var regOnce sync.Once

// RegisterDefault registers every collector on Registry once
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(RefreshOutcomes)
		Registry.MustRegister(OracleLatency)
		Registry.MustRegister(SolverDuration)
		Registry.MustRegister(SolverDroppedStops)
		Registry.MustRegister(RoutePlansSaved)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
