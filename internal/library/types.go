// SPDX-License-Identifier: MIT

// Package library indexes .touch recordings under configured roots and
// serves the daemon's recording listings. The index lives in SQLite; the
// scanner reads container metadata only and never touches chunk payloads.
package library

import (
	"errors"
	"time"

	"github.com/opentouch/touchstream/internal/container"
)

// RootStatus is the runtime scan state of a library root.
type RootStatus string

const (
	RootStatusNever    RootStatus = "never"
	RootStatusRunning  RootStatus = "running"
	RootStatusOK       RootStatus = "ok"
	RootStatusDegraded RootStatus = "degraded"
	RootStatusFailed   RootStatus = "failed"
)

// String returns the config spelling of the status.
func (r RootStatus) String() string { return string(r) }

// RootConfig declares one recordings root.
type RootConfig struct {
	ID       string // unique, operator-chosen
	Path     string // absolute directory on the host
	MaxDepth int    // 0 means unlimited
}

// Root is the API view of a root: status and counts, never the host path.
type Root struct {
	ID             string     `json:"id"`
	LastScanTime   *time.Time `json:"last_scan_time,omitempty"`
	LastScanStatus RootStatus `json:"last_scan_status"`
	Recordings     int        `json:"recordings"`
}

// RecordingStatus tells whether a recording's container was readable.
type RecordingStatus string

const (
	RecordingOK         RecordingStatus = "ok"
	RecordingUnreadable RecordingStatus = "unreadable"
)

// String returns the stored spelling of the status.
func (s RecordingStatus) String() string { return string(s) }

// StreamInfo is one declared stream of a recording.
type StreamInfo struct {
	Sensor string         `json:"sensor"`
	Stream string         `json:"stream"`
	Kind   container.Kind `json:"kind"`
}

// Recording is one indexed .touch file.
type Recording struct {
	RootID          string          `json:"root_id"`
	RelPath         string          `json:"rel_path"`
	Name            string          `json:"name"`
	SizeBytes       int64           `json:"size_bytes"`
	ModTime         time.Time       `json:"mod_time"`
	ScanTime        time.Time       `json:"scan_time"`
	GroupName       string          `json:"group_name,omitempty"`
	ChunkCount      int             `json:"chunk_count"`
	DurationSeconds float64         `json:"duration_seconds"`
	Status          RecordingStatus `json:"status"`
	Streams         []StreamInfo    `json:"streams,omitempty"`
}

// Summary is the per-recording detail served by the API, built from the
// container header without decoding payloads.
type Summary struct {
	RootID          string          `json:"root_id"`
	RelPath         string          `json:"rel_path"`
	GroupName       string          `json:"group_name,omitempty"`
	SizeBytes       int64           `json:"size_bytes"`
	ModTime         time.Time       `json:"mod_time"`
	ChunkCount      int             `json:"chunk_count"`
	StartSeconds    float64         `json:"start_seconds"`
	DurationSeconds float64         `json:"duration_seconds"`
	Streams         []StreamInfo    `json:"streams"`
	Chunks          []ChunkSummary  `json:"chunks,omitempty"`
	Status          RecordingStatus `json:"status"`
}

// ChunkSummary is one chunk's time coverage and size.
type ChunkSummary struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Bytes uint64  `json:"bytes"`
}

// ScanResult is the outcome of one root scan.
type ScanResult struct {
	RootID      string
	Started     time.Time
	Finished    time.Time
	Indexed     int // recordings upserted
	Skipped     int // files ignored (extension, depth, confinement)
	Unreadable  int // indexed but their containers failed to parse
	Pruned      int // rows removed for vanished files
	ErrorCount  int
	FinalStatus RootStatus
}

var (
	// ErrRootNotFound marks a request for an unconfigured or unknown root.
	ErrRootNotFound = errors.New("library: root not found")

	// ErrScanRunning is returned while a root's scan is in flight; callers
	// map it to 503 with a Retry-After.
	ErrScanRunning = errors.New("library: scan already running")

	// ErrRecordingNotFound marks a lookup for an unindexed recording.
	ErrRecordingNotFound = errors.New("library: recording not found")
)
