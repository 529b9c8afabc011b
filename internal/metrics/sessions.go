// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks currently running viewer sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "touchstream_sessions_active",
		Help: "Number of live viewer sessions",
	})

	// SessionSpawnsTotal counts viewer process spawns by result.
	SessionSpawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "touchstream_session_spawns_total",
		Help: "Viewer process spawn attempts by result",
	}, []string{"result"})

	// LibraryRecordings tracks the number of recordings in the catalog.
	LibraryRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "touchstream_library_recordings",
		Help: "Recordings currently known to the library",
	})

	// LibraryScansTotal counts library scans by result.
	LibraryScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "touchstream_library_scans_total",
		Help: "Library scans by result",
	}, []string{"result"})
)

// IncSessionSpawn records a viewer spawn attempt outcome.
func IncSessionSpawn(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	SessionSpawnsTotal.WithLabelValues(result).Inc()
}
