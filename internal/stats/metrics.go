package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus mirrors of the aggregator counters. They are updated from
// the same Record* calls so /metrics and /api/v1/stats never disagree
// about what happened, only about scrape timing.
var (
	reviewsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolvet_reviews_submitted_total",
		Help: "Total tool review sessions created.",
	})

	reviewOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolvet_review_outcomes_total",
		Help: "Review phase arrivals by outcome (approved, rejected, signed, signing_failed).",
	}, []string{"outcome"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toolvet_queue_depth",
		Help: "Sessions currently in each workflow stage.",
	}, []string{"stage"})

	gateVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolvet_gate_verdicts_total",
		Help: "Decision gate verdicts by kind.",
	}, []string{"verdict"})

	escalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolvet_escalations_total",
		Help: "Total senior-review escalations.",
	})

	analysisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolvet_analysis_failures_total",
		Help: "Total analyzer errors and timeouts.",
	})

	findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolvet_findings_total",
		Help: "Security findings reported by analyses, by category.",
	}, []string{"category"})

	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "toolvet_analysis_duration_seconds",
		Help:    "Wall-clock duration of security analyses.",
		Buckets: prometheus.DefBuckets,
	})

	humanReviewDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "toolvet_human_review_duration_seconds",
		Help:    "Time sessions spend awaiting a human decision.",
		Buckets: []float64{1, 10, 60, 300, 1800, 3600, 14400, 86400},
	})
)
