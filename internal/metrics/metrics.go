package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
		[]string{"agent", "kind"}, // kind: fresh|resume|breakout_resume
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_completed_total",
			Help: "Total number of pipeline runs reaching a terminal state",
		},
		[]string{"agent", "exit_reason"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_active_runs",
			Help: "Number of pipeline runs currently executing",
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stage_failures_total",
			Help: "Total number of failed stage attempts",
		},
		[]string{"stage"},
	)

	RepairIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_repair_iterations_total",
			Help: "Total number of repair-loop iterations executed",
		},
	)

	// Cost metrics
	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_cost_usd",
			Help:    "Cost in USD per run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	BudgetExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_budget_exceeded_total",
			Help: "Total number of runs stopped by budget exhaustion",
		},
	)
)
