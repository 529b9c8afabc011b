// SPDX-License-Identifier: MIT

// Package session owns the lifecycle of external viewer processes: spawn,
// replace, inspect and tear down, one process group per session.
package session

import (
	"errors"
	"time"
)

// Status of a session's viewer process.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// Sentinel errors. The API layer maps them onto HTTP statuses.
var (
	// ErrNotFound marks an unknown session id.
	ErrNotFound = errors.New("session: not found")

	// ErrNoInput means a load named neither an artifact nor a recording.
	ErrNoInput = errors.New("session: provide artifact_path or recording_path")

	// ErrViewerRunning rejects a load that would displace a live viewer
	// without replace_viewer set.
	ErrViewerRunning = errors.New("session: viewer already running")

	// ErrRateLimited rejects spawns beyond the configured rate.
	ErrRateLimited = errors.New("session: viewer spawn rate exceeded")

	// ErrArtifactMissing marks an artifact path that does not exist.
	ErrArtifactMissing = errors.New("session: artifact not found")

	// ErrRecordingMissing marks a recording path that does not exist.
	ErrRecordingMissing = errors.New("session: recording not found")
)

// Record is the manager's mutable per-session state, guarded by the
// manager's mutex.
type Record struct {
	ID         string
	Proc       Process
	Command    []string
	Args       []string
	CreatedAt  time.Time
	LoadedPath string
	LastLoadAt time.Time
}

// Info is the API view of a session.
type Info struct {
	ID         string     `json:"session_id"`
	PID        int        `json:"pid"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	LoadedPath string     `json:"loaded_artifact,omitempty"`
	LastLoadAt *time.Time `json:"last_loaded_at,omitempty"`
}

// Playback is reported as unknown until viewers expose a control channel.
type Playback struct {
	State string   `json:"state"`
	Time  *float64 `json:"time_s,omitempty"`
}

// State pairs a session's info with its playback state.
type State struct {
	Session  Info     `json:"session"`
	Playback Playback `json:"playback"`
}

// LoadSpec names what a session should display: an existing artifact, or a
// recording converted on demand.
type LoadSpec struct {
	ArtifactPath  string
	RecordingPath string
	UseCache      bool
}

// CreateSpec configures a new session. An empty LoadSpec is allowed; the
// viewer then starts without data.
type CreateSpec struct {
	LoadSpec
	ViewerArgs []string
}
