// Package metrics exposes Prometheus collectors for portal traffic and
// credential discovery. Collectors are registered on the default registry so
// any component can observe without plumbing a registry through constructors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PortalRequests counts portal.php calls by action and result
	// (ok, http_error, network_error, decode_error).
	PortalRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_portal_requests_total",
		Help: "Portal requests by action and result.",
	}, []string{"action", "result"})

	// PortalRequestDuration observes portal round-trip latency per action.
	PortalRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stalker_portal_request_seconds",
		Help:    "Portal request latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"action"})

	// DiscoveryAttempts counts MAC probe attempts by outcome
	// (success, auth_failure, timeout, error).
	DiscoveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_discovery_attempts_total",
		Help: "MAC discovery attempts by outcome.",
	}, []string{"outcome"})

	// DiscoveryRuns counts whole discovery searches by result
	// (found, exhausted, unreachable, canceled).
	DiscoveryRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_discovery_runs_total",
		Help: "MAC discovery runs by result.",
	}, []string{"result"})

	// BatchCandidates counts batch-tested candidates by verdict (working, failed).
	BatchCandidates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_batch_candidates_total",
		Help: "Batch-tested MAC candidates by verdict.",
	}, []string{"verdict"})
)

func init() {
	prometheus.MustRegister(
		PortalRequests,
		PortalRequestDuration,
		DiscoveryAttempts,
		DiscoveryRuns,
		BatchCandidates,
	)
}

// ObserveRequest records one portal request.
func ObserveRequest(action, result string, elapsed time.Duration) {
	PortalRequests.WithLabelValues(action, result).Inc()
	PortalRequestDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// Serve blocks serving /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
