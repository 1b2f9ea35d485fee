package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saf_source_messages_total",
			Help: "Raw messages read by source and status (decoded, malformed).",
		},
		[]string{"source", "status"},
	)
	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saf_source_reconnects_total",
			Help: "Transport errors that caused a source to back off and retry.",
		},
		[]string{"source"},
	)
)
