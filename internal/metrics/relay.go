// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camshot_relay_requests_total",
		Help: "Requests to the recognition service, by mode and result.",
	}, []string{"mode", "result"})

	relayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camshot_relay_duration_seconds",
		Help:    "Recognition service request latency in seconds, by mode.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
)

// RecordRelay records one recognition service call.
func RecordRelay(mode, result string, d time.Duration) {
	relayRequests.WithLabelValues(mode, result).Inc()
	relayDuration.WithLabelValues(mode).Observe(d.Seconds())
}
