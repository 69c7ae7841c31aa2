package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	uploads    prometheus.Histogram
	batchCalls prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "launchpad",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		uploads: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "launchpad",
			Subsystem: "gateway",
			Name:      "upload_bytes",
			Help:      "Sizes of files forwarded to the pinning service.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		batchCalls: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "launchpad",
			Subsystem: "gateway",
			Name:      "rpc_batch_calls",
			Help:      "Calls per JSON-RPC batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}
