// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolResources tracks live camera resources by state (busy/idle).
	PoolResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camshot_pool_resources",
		Help: "Current number of camera resources, by state.",
	}, []string{"state"})

	// SessionConnected is 1 while the shared rendering session is connected.
	SessionConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camshot_session_connected",
		Help: "Whether the shared rendering session is connected (1) or not (0).",
	})

	// SessionLaunches counts rendering session launches by result.
	SessionLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camshot_session_launches_total",
		Help: "Rendering session launch attempts, by result.",
	}, []string{"result"})

	// ResourceEvictions counts resources closed by the pool, by reason.
	ResourceEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camshot_pool_evictions_total",
		Help: "Camera resources closed by the pool, by reason (lru/idle/stale/disconnect/shutdown).",
	}, []string{"reason"})

	// AcquireWaits counts acquisitions that had to wait for a busy resource to be released.
	AcquireWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camshot_pool_acquire_waits_total",
		Help: "Acquisitions that blocked because every resource was busy.",
	})
)

// SetPoolResources sets the busy and idle resource gauges.
func SetPoolResources(busy, idle int) {
	PoolResources.WithLabelValues("busy").Set(float64(busy))
	PoolResources.WithLabelValues("idle").Set(float64(idle))
}

// SetSessionConnected sets the session connectivity gauge.
func SetSessionConnected(connected bool) {
	if connected {
		SessionConnected.Set(1)
		return
	}
	SessionConnected.Set(0)
}

// RecordSessionLaunch increments the session launch counter.
func RecordSessionLaunch(result string) {
	SessionLaunches.WithLabelValues(result).Inc()
}

// RecordEviction increments the eviction counter.
func RecordEviction(reason string) {
	ResourceEvictions.WithLabelValues(reason).Inc()
}

// RecordAcquireWait increments the blocked-acquire counter.
func RecordAcquireWait() {
	AcquireWaits.Inc()
}
