package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/autopilot/pkg/artifact"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome status.",
	}, []string{"status"})
	metricRunFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "run_failures_total",
		Help:      "Pipeline runs that returned an error, by error code.",
	}, []string{"code"})
	metricGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "gaps_total",
		Help:      "Plan gaps by rendering result.",
	}, []string{"status"})
	metricArtifacts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "artifacts_generated_total",
		Help:      "Artifacts produced by the generator.",
	})
	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autopilot",
		Name:      "run_duration_seconds",
		Help:      "Wall time of pipeline runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func recordOutcome(o Outcome, elapsed time.Duration) {
	metricRuns.WithLabelValues(string(o.Status())).Inc()
	metricRunDuration.Observe(elapsed.Seconds())
}

func recordFailure(err error, elapsed time.Duration) {
	metricRunFailures.WithLabelValues(string(apierrors.GetCode(err))).Inc()
	metricRunDuration.Observe(elapsed.Seconds())
}

func recordGeneration(res *artifact.Result) {
	for _, g := range res.Gaps {
		metricGaps.WithLabelValues(string(g.Status)).Inc()
	}
	metricArtifacts.Add(float64(len(res.Artifacts)))
}
