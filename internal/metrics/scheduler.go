// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// SchedulerActive tracks currently running jobs.
	SchedulerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camshot_scheduler_active_jobs",
		Help: "Current number of running capture jobs.",
	})

	// SchedulerQueued tracks jobs waiting for a slot.
	SchedulerQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camshot_scheduler_queued_jobs",
		Help: "Current number of queued capture jobs.",
	})

	// SchedulerRejects counts jobs that never ran, by reason.
	SchedulerRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camshot_scheduler_rejects_total",
		Help: "Jobs that never started, by reason (queue_full/wait_timeout/canceled/closed).",
	}, []string{"reason"})

	// SchedulerWait observes time spent queued before a job started.
	SchedulerWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camshot_scheduler_wait_seconds",
		Help:    "Time capture jobs spent queued before starting.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 10),
	})

	// SchedulerPanics counts recovered job panics.
	SchedulerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camshot_scheduler_panics_total",
		Help: "Total number of recovered panics in capture jobs.",
	})
)

// SetSchedulerLoad sets the active and queued gauges.
func SetSchedulerLoad(active, queued int) {
	SchedulerActive.Set(float64(active))
	SchedulerQueued.Set(float64(queued))
}

// RecordSchedulerReject increments the reject counter.
func RecordSchedulerReject(reason string) {
	SchedulerRejects.WithLabelValues(reason).Inc()
}

// ObserveSchedulerWait records the queue wait of a started job.
func ObserveSchedulerWait(d time.Duration) {
	SchedulerWait.Observe(d.Seconds())
}

// RecordSchedulerPanic increments the panic counter.
func RecordSchedulerPanic() {
	SchedulerPanics.Inc()
}

// GetSchedulerRejects returns the current reject count for reason (for testing).
func GetSchedulerRejects(reason string) float64 {
	var m dto.Metric
	if err := SchedulerRejects.WithLabelValues(reason).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
