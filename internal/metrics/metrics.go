package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordingsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cradlewatch_recordings_processed_total",
		Help: "Recordings handled by the processing loop, by final status",
	}, []string{"status"})

	EpisodesDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cradlewatch_episodes_detected_total",
		Help: "Detected episodes persisted to the result store, by event type",
	}, []string{"event_type"})

	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cradlewatch_run_duration_seconds",
		Help:    "Wall-clock duration of complete processing runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	ProgressDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cradlewatch_progress_drops_total",
		Help: "Progress updates dropped because a subscriber channel was full",
	})
)

// IncRecording records one finished recording with its final status.
func IncRecording(status string) {
	if status == "" {
		status = "unknown"
	}
	RecordingsProcessedTotal.WithLabelValues(status).Inc()
}

// IncEpisodes records n persisted episodes of one event type.
func IncEpisodes(eventType string, n int) {
	if n <= 0 {
		return
	}
	EpisodesDetectedTotal.WithLabelValues(eventType).Add(float64(n))
}
