package correlator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saf_correlator_events_total",
			Help: "Classified events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saf_correlator_records_total",
			Help: "Consolidated records by path: immediate, released, flushed, dropped.",
		},
		[]string{"path"},
	)
	jobsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saf_correlator_jobs_evicted_total",
			Help: "Tracked jobs evicted by the TTL sweep before every minion returned.",
		},
	)
	trackedJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saf_correlator_tracked_jobs",
			Help: "Jobs waiting for at least one minion return.",
		},
	)
	pendingRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saf_correlator_pending_records",
			Help: "Records waiting for grains.",
		},
	)
	enrichmentEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saf_correlator_enrichment_entries",
			Help: "Minions with known grains.",
		},
	)
)
