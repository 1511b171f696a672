// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP ingress metrics. Paths are chi route patterns, never raw URLs,
	// to keep label cardinality bounded.
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookd_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route pattern and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookd_http_requests_in_flight",
		Help: "HTTP requests currently being served",
	})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookd_http_response_size_bytes",
		Help:    "HTTP response sizes in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})
)

func ObserveHTTPRequest(method, path, status string, seconds float64) {
	httpRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}

func ObserveHTTPResponseSize(method, path string, bytes int) {
	if bytes > 0 {
		httpResponseSize.WithLabelValues(method, path).Observe(float64(bytes))
	}
}

func IncHTTPInFlight() { httpRequestsInFlight.Inc() }

func DecHTTPInFlight() { httpRequestsInFlight.Dec() }
