package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygate_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

var knownRoutes = map[string]bool{
	"/health":             true,
	"/query":              true,
	"/evaluate":           true,
	"/v1/health":          true,
	"/v1/ready":           true,
	"/v1/metrics":         true,
	"/v1/query":           true,
	"/v1/validate":        true,
	"/v1/grammar":         true,
	"/v1/schema":          true,
	"/v1/evaluate":        true,
	"/v1/evaluate/stream": true,
	"/v1/evaluations":     true,
	"/v1/config":          true,
}

// RouteLabel maps a request path onto a bounded label set: evaluation run ids collapse to
// {run_id} and unknown paths to "other".
func RouteLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/v1/evaluations/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/v1/evaluations/{run_id}"
	}
	return "other"
}

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds)
}
