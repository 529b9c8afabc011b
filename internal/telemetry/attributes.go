// SPDX-License-Identifier: MIT

package telemetry

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans so dashboards can rely on one spelling.
const (
	// Recording and conversion attributes
	RecordingPathKey   = "recording.path"
	ArtifactPathKey    = "artifact.path"
	ConvertSamplesKey  = "convert.samples"
	ConvertWarningsKey = "convert.warnings"
	ConvertDroppedKey  = "convert.dropped"

	// Job attributes
	JobTypeKey     = "job.type"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"
)

// ConvertAttributes builds the span attributes of one conversion run.
func ConvertAttributes(input, artifact string, samples, warnings, dropped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RecordingPathKey, input),
		attribute.String(ArtifactPathKey, artifact),
		attribute.Int(ConvertSamplesKey, samples),
		attribute.Int(ConvertWarningsKey, warnings),
		attribute.Int(ConvertDroppedKey, dropped),
	}
}

// JobAttributes builds the outcome attributes shared by every job kind.
func JobAttributes(jobType, status string, elapsed time.Duration) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobTypeKey, jobType),
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, elapsed.Milliseconds()),
	}
}
