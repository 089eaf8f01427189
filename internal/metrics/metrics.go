// Package metrics holds the Prometheus collectors for simulation throughput.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run variants used as label values.
const (
	VariantGBM         = "gbm"
	VariantForcedDecay = "forced_decay"
)

// RunsTotal counts completed single runs by price process.
var RunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "unwind",
		Subsystem: "sim",
		Name:      "runs_total",
		Help:      "Total number of completed unwind runs",
	},
	[]string{"variant"},
)

// NonConvergence counts runs aborted by the tick budget.
var NonConvergence = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "unwind",
		Subsystem: "sim",
		Name:      "non_convergence_total",
		Help:      "Runs that exceeded the maximum tick budget",
	},
	[]string{"variant"},
)

// BlocksPerRun is the distribution of blocks needed to unwind under GBM.
var BlocksPerRun = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "unwind",
		Subsystem: "sim",
		Name:      "blocks_per_run",
		Help:      "Blocks elapsed until all positions were unwound",
		Buckets:   []float64{1, 2, 4, 6, 8, 12, 16, 24, 32, 64},
	},
)

// AssessmentDuration tracks wall time of complete assessments.
var AssessmentDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "unwind",
		Subsystem: "risk",
		Name:      "assessment_duration_seconds",
		Help:      "Time to run the Monte Carlo batch and sensitivity sweep",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	},
	[]string{"stage"},
)

// ThresholdCrossings counts sweep thresholds by outcome (found or not_found).
var ThresholdCrossings = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "unwind",
		Subsystem: "sensitivity",
		Name:      "threshold_results_total",
		Help:      "Sensitivity thresholds resolved, by outcome",
	},
	[]string{"outcome"},
)
