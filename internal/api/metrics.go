// SPDX-License-Identifier: MIT

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fileRequestsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camshot_artifact_requests_denied_total",
		Help: "Artifact requests refused, by reason.",
	}, []string{"reason"})

	fileRequestsAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camshot_artifact_requests_allowed_total",
		Help: "Artifact requests served.",
	})

	fileCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camshot_artifact_cache_hits_total",
		Help: "Artifact requests answered with 304 Not Modified.",
	})
)

func recordFileRequestAllowed() { fileRequestsAllowedTotal.Inc() }

func recordFileRequestDenied(reason string) { fileRequestsDeniedTotal.WithLabelValues(reason).Inc() }

func recordFileCacheHit() { fileCacheHitsTotal.Inc() }
