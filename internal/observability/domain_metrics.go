package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygate_generation_latency_ms",
			Help:    "Constrained generation latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)
	generationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_generation_failures_total",
			Help: "Total number of failed generation calls.",
		},
		[]string{"provider"},
	)
	grammarViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_grammar_violations_total",
			Help: "Total number of generated statements rejected by independent validation.",
		},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_executions_total",
			Help: "Total number of statement executions by outcome.",
		},
		[]string{"outcome"},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querygate_execution_latency_ms",
			Help:    "Statement execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)
	evaluationAccuracy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querygate_evaluation_accuracy",
			Help: "Accuracy of the latest evaluation run by category and signal (match or execution).",
		},
		[]string{"category", "signal"},
	)
	evaluationRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_evaluation_runs_total",
			Help: "Total number of completed evaluation runs.",
		},
	)
	historyPrunedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_history_pruned_total",
			Help: "Total number of history rows removed by retention, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		generationLatencyMs,
		generationFailuresTotal,
		grammarViolationsTotal,
		executionsTotal,
		executionLatencyMs,
		evaluationAccuracy,
		evaluationRunsTotal,
		historyPrunedTotal,
	)
}

func ObserveGeneration(provider string, elapsed time.Duration, failed bool) {
	if provider == "" {
		provider = "unknown"
	}
	generationLatencyMs.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
	if failed {
		generationFailuresTotal.WithLabelValues(provider).Inc()
	}
}

func IncrementGrammarViolation() {
	grammarViolationsTotal.Inc()
}

// ObserveExecution records one executor call; outcome is "ok" or a failure kind.
func ObserveExecution(outcome string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(outcome).Inc()
	executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func SetEvaluationAccuracy(category string, matchAccuracy, executionAccuracy float64) {
	evaluationAccuracy.WithLabelValues(category, "match").Set(matchAccuracy)
	evaluationAccuracy.WithLabelValues(category, "execution").Set(executionAccuracy)
}

func IncrementEvaluationRuns() {
	evaluationRunsTotal.Inc()
}

func AddHistoryPruned(kind string, count int64) {
	if count > 0 {
		historyPrunedTotal.WithLabelValues(kind).Add(float64(count))
	}
}
