// SPDX-License-Identifier: MIT

package pipeline

import (
	"errors"
	"fmt"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/payload"
	"github.com/opentouch/touchstream/internal/wire"
)

// Warning reasons, used as metric labels and in warning summaries.
const (
	ReasonTruncatedEvent      = "truncated_event"
	ReasonChunkAbandoned      = "chunk_abandoned"
	ReasonHeaderMismatch      = "header_mismatch"
	ReasonUnknownTelemetryTag = "unknown_telemetry_tag"
	ReasonAudioLengthMismatch = "audio_length_mismatch"
	ReasonMalformedPayload    = "malformed_payload"
	ReasonClockRegression     = "clock_regression"
	ReasonStreamMuted         = "stream_muted"
	ReasonDimensionChange     = "dimension_change"
)

// reasonFor maps an event-scoped decode error to its warning reason.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, payload.ErrUnknownTelemetryTag):
		return ReasonUnknownTelemetryTag
	case errors.Is(err, payload.ErrAudioLengthMismatch):
		return ReasonAudioLengthMismatch
	case errors.Is(err, wire.ErrTruncated):
		return ReasonTruncatedEvent
	default:
		return ReasonMalformedPayload
	}
}

// Warning records one recoverable decode defect.
type Warning struct {
	Chunk  int     `json:"chunk"`
	Sensor string  `json:"sensor,omitempty"`
	Stream string  `json:"stream,omitempty"`
	Time   float64 `json:"time,omitempty"`
	Reason string  `json:"reason"`
	Detail string  `json:"detail,omitempty"`
}

func (w Warning) String() string {
	loc := fmt.Sprintf("chunk %d", w.Chunk)
	if w.Sensor != "" {
		loc += fmt.Sprintf(" %s/%s", w.Sensor, w.Stream)
	}
	if w.Detail == "" {
		return fmt.Sprintf("%s: %s", loc, w.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", loc, w.Reason, w.Detail)
}

// Summary reports one decode run's outcome.
type Summary struct {
	Chunks   int                    `json:"chunks"`
	Events   int                    `json:"events"`
	Samples  int                    `json:"samples"`
	Dropped  int                    `json:"dropped"`
	ByKind   map[container.Kind]int `json:"by_kind"`
	Warnings []Warning              `json:"warnings,omitempty"`
}

func (s Summary) clone() Summary {
	out := s
	out.ByKind = make(map[container.Kind]int, len(s.ByKind))
	for k, v := range s.ByKind {
		out.ByKind[k] = v
	}
	out.Warnings = append([]Warning(nil), s.Warnings...)
	return out
}
