// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the camshot capture engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Camera labels are limited to configured camera names plus "adhoc" so that
// arbitrary player URLs cannot explode cardinality.

var (
	// CaptureTotal counts finished capture jobs by camera and result kind ("ok" on success).
	CaptureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camshot_capture_total",
		Help: "Total number of capture jobs, by camera and result.",
	}, []string{"camera", "result"})

	// CaptureDuration observes end-to-end job run time (excluding queue wait).
	CaptureDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camshot_capture_duration_seconds",
		Help:    "Capture job run time in seconds, by camera.",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
	}, []string{"camera"})

	// StrategyTotal counts strategy attempts by strategy name and outcome.
	StrategyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camshot_strategy_attempts_total",
		Help: "Frame extraction strategy attempts, by strategy and outcome (hit/miss/error).",
	}, []string{"strategy", "outcome"})

	// CaptureRetries counts outer pipeline retries.
	CaptureRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camshot_capture_retries_total",
		Help: "Total number of whole-pipeline retries after infrastructure errors.",
	})

	// ArtifactsRemoved counts artifact files removed by retention sweeps.
	ArtifactsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camshot_artifacts_removed_total",
		Help: "Total number of artifact files removed by retention.",
	})
)

// RecordCapture records the outcome and run time of one capture job.
func RecordCapture(camera, result string, d time.Duration) {
	CaptureTotal.WithLabelValues(camera, result).Inc()
	CaptureDuration.WithLabelValues(camera).Observe(d.Seconds())
}

// RecordStrategy records one strategy attempt.
func RecordStrategy(strategy, outcome string) {
	StrategyTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordCaptureRetry increments the retry counter.
func RecordCaptureRetry() {
	CaptureRetries.Inc()
}

// RecordArtifactsRemoved adds n removed artifact files.
func RecordArtifactsRemoved(n int) {
	if n > 0 {
		ArtifactsRemoved.Add(float64(n))
	}
}
