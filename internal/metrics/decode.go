// SPDX-License-Identifier: MIT

// Package metrics exposes the touchstream Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecodeChunksTotal counts chunks fully unpacked and merged.
	DecodeChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "touchstream_decode_chunks_total",
		Help: "Total number of chunks decoded",
	})

	// DecodeSamplesTotal counts emitted canonical samples by stream kind.
	DecodeSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "touchstream_decode_samples_total",
		Help: "Total number of canonical samples emitted by kind",
	}, []string{"kind"})

	// DecodeWarningsTotal counts decode warnings by reason.
	DecodeWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "touchstream_decode_warnings_total",
		Help: "Total number of decode warnings by reason",
	}, []string{"reason"})

	// DecodeChunkDuration tracks per-chunk unpack+merge latency.
	DecodeChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "touchstream_decode_chunk_duration_seconds",
		Help:    "Time to unpack, decode and merge one chunk",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// IncDecodeSamples records emitted samples for a stream kind.
func IncDecodeSamples(kind string, n int) {
	DecodeSamplesTotal.WithLabelValues(kind).Add(float64(n))
}

// IncDecodeWarning records one decode warning.
func IncDecodeWarning(reason string) {
	DecodeWarningsTotal.WithLabelValues(reason).Inc()
}

// ObserveChunkDecode records one chunk's decode latency.
func ObserveChunkDecode(d time.Duration) {
	DecodeChunkDuration.Observe(d.Seconds())
}
