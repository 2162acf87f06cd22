// Package pipeline — metrics.go registers the Prometheus metrics for the
// turn orchestrator.
package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for turnsTotal.
const (
	// outcomeOK means the turn committed with a model-generated answer.
	outcomeOK = "ok"
	// outcomeFallback means the turn committed with the generator's fixed
	// fallback text.
	outcomeFallback = "fallback"
	// outcomeError means the turn failed on a conversation-store error.
	outcomeError = "error"
)

// pipelineMetrics holds all Prometheus metrics owned by the pipeline.
// A single instance is created in New and stored on Pipeline so that tests
// can inject a fresh prometheus.Registry without polluting the default one.
type pipelineMetrics struct {
	// turnsTotal counts completed turns, partitioned by outcome: "ok",
	// "fallback", or "error".
	turnsTotal *prometheus.CounterVec

	// stageDegradations counts per-stage fail-soft events: analyzer fell
	// back to the raw utterance, retrieval returned an error, or generation
	// returned the fallback answer.
	stageDegradations *prometheus.CounterVec

	// turnDuration records the wall-clock duration of each turn from user
	// message receipt to assistant message commit.
	turnDuration prometheus.Histogram
}

// newPipelineMetrics registers all pipeline metrics against reg and returns
// the populated pipelineMetrics. promauto.With(reg) registers into the
// provided registry rather than the global default, keeping unit tests
// hermetic.
func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)

	return &pipelineMetrics{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "turns_total",
			Help:      "Total number of conversation turns completed, partitioned by outcome.",
		}, []string{"outcome"}),

		stageDegradations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "stage_degradations_total",
			Help:      "Total number of fail-soft stage degradations, partitioned by stage.",
		}, []string{"stage"}),

		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of conversation turns from receipt to commit.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}
