// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConvertTotal counts conversion runs by result.
	ConvertTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "touchstream_convert_total",
		Help: "Total number of conversion runs by result",
	}, []string{"result"})

	// ConvertDuration tracks end-to-end conversion latency.
	ConvertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "touchstream_convert_duration_seconds",
		Help:    "End-to-end conversion time",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// ArtifactCacheTotal counts cache lookups by outcome.
	ArtifactCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "touchstream_artifact_cache_total",
		Help: "Artifact cache lookups by outcome",
	}, []string{"outcome"})
)

// IncConvert records one conversion outcome: ok, warnings or error.
func IncConvert(result string) {
	ConvertTotal.WithLabelValues(result).Inc()
}

// ObserveConvertDuration records one conversion's wall time.
func ObserveConvertDuration(d time.Duration) {
	ConvertDuration.Observe(d.Seconds())
}

// IncArtifactCache records a cache hit or miss.
func IncArtifactCache(outcome string) {
	ArtifactCacheTotal.WithLabelValues(outcome).Inc()
}
