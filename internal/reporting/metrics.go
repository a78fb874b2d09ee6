package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_reports_total",
		Help: "Playstate reports by kind and outcome (ok, failed, skipped, coalesced, dropped)",
	}, []string{"kind", "outcome"})

	reportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playerd_report_duration_seconds",
		Help:    "Time to deliver a playstate report, retries included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})
)
