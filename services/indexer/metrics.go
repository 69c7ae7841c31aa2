package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	tokens   prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "indexer",
			Name:      "events_total",
			Help:      "Token events handled, by source.",
		}, []string{"source"}),
		tokens: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "indexer",
			Name:      "tokens",
			Help:      "Tokens currently indexed.",
		}),
	}
}
