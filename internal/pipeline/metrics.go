package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dispatchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "saf_pipeline_dispatch_total",
		Help: "Records handed to sinks by sink and status (ok, error).",
	},
	[]string{"sink", "status"},
)
