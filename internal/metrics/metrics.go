package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels runs and calls that completed cleanly.
	OutcomeSuccess = "success"
	// OutcomeError labels runs and calls that failed or recorded an error.
	OutcomeError = "error"

	// Watcher file outcomes.
	FileProcessed = "processed"
	FileFailed    = "failed"
	FileSkipped   = "skipped"
)

const namespace = "incidentsuite"

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	analyzerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_calls_total",
			Help:      "Analyzer invocations, partitioned by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts, partitioned by delivery mode.",
		},
		[]string{"mode"},
	)

	watcherFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_files_total",
			Help:      "Files handled by the ingestion watcher, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches incidentsuite collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pipelineRunsTotal,
		stageDurationSeconds,
		analyzerCallsTotal,
		notificationsTotal,
		watcherFilesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePipelineRun records the outcome label of a finished run.
func ObservePipelineRun(outcome string) {
	pipelineRunsTotal.WithLabelValues(normalizeOutcome(outcome)).Inc()
}

// ObserveStage records a stage duration.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveAnalyzerCall counts one analyzer invocation.
func ObserveAnalyzerCall(task string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	analyzerCallsTotal.WithLabelValues(task, outcome).Inc()
}

// ObserveNotification counts one delivery attempt by mode.
func ObserveNotification(mode string) {
	notificationsTotal.WithLabelValues(mode).Inc()
}

// ObserveWatcherFile counts one file handled by the watcher.
func ObserveWatcherFile(outcome string) {
	watcherFilesTotal.WithLabelValues(outcome).Inc()
}

func normalizeOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return outcome
}
