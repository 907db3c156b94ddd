package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// attemptsTotal tracks every HTTP attempt made by the retrying transport
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webplanner_remote_attempts_total",
			Help: "Total number of remote call attempts",
		},
		[]string{"provider", "outcome"},
	)

	// callsTotal tracks logical calls by final outcome
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webplanner_remote_calls_total",
			Help: "Total number of logical remote calls by final outcome",
		},
		[]string{"provider", "outcome"},
	)

	attemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webplanner_remote_attempt_seconds",
			Help:    "Latency of a single remote call attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// callLatency includes retries and backoff waits
	callLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webplanner_remote_call_seconds",
			Help:    "Latency of a logical remote call including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 200},
		},
		[]string{"provider"},
	)

	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webplanner_geo_resolutions_total",
			Help: "Address resolutions by source",
		},
		[]string{"source"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webplanner_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "status"},
	)

	httpLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webplanner_http_request_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// endpointUp mirrors the latest connectivity probe per provider endpoint
	endpointUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webplanner_endpoint_up",
			Help: "Whether the last connectivity probe to a provider endpoint succeeded",
		},
		[]string{"endpoint"},
	)
)

// SetEndpointUp records the result of a connectivity probe.
func SetEndpointUp(endpoint string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	endpointUp.WithLabelValues(endpoint).Set(v)
}
