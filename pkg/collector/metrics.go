package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for collection runs.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_collector_pages_total",
		Help: "Total pages persisted by target",
	}, []string{"target"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_collector_records_total",
		Help: "Total records persisted by target",
	}, []string{"target"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_collector_runs_total",
		Help: "Total collection runs by target and outcome",
	}, []string{"target", "outcome"})

	decodeSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_collector_decode_skips_total",
		Help: "Total pages abandoned because the body stayed malformed",
	}, []string{"target"})

	duplicateRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_collector_duplicate_records_total",
		Help: "Total record IDs seen more than once within a run",
	}, []string{"target"})
)
