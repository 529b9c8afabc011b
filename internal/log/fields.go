// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Recording fields
	FieldRecording = "recording"
	FieldGroup     = "group"
	FieldSensor    = "sensor"
	FieldStream    = "stream"
	FieldChunk     = "chunk"
	FieldKind      = "kind"
	FieldSamples   = "samples"
	FieldWarnings  = "warnings"

	// Path / artifact fields
	FieldPath     = "path"
	FieldArtifact = "artifact"

	// Viewer fields
	FieldViewerCmd  = "viewer_cmd"
	FieldViewerPort = "viewer_port"
	FieldPID        = "pid"
)
