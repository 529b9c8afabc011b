// SPDX-License-Identifier: MIT

// Package container reads and writes .touch recording containers.
//
// A container holds the recording config plus three parallel arrays: chunk
// byte ranges, chunk start times and chunk end times. The layout keeps the
// chunk index separate from the payload region so a reader can list every
// chunk without materializing any payload bytes.
//
// On-disk layout (big-endian):
//
//	u32 magic "OTCH"
//	u16 version
//	u16 flags
//	u64 index_offset
//	u32 config_len, config JSON
//	... chunk payload region ...
//	index at index_offset:
//	  u32 blob_count,  blob_count  x (u64 offset, u64 length)
//	  u32 start_count, start_count x f64
//	  u32 end_count,   end_count   x f64
package container

import (
	"errors"
	"fmt"
)

const (
	// Magic spells "OTCH" in the first four bytes of every container.
	Magic uint32 = 0x4F544348

	// Version1 is the only supported container version.
	Version1 uint16 = 1

	headerLen = 4 + 2 + 2 + 8 + 4
)

// ErrCorrupt marks a structurally unusable container. Decoding cannot
// continue past it; callers must treat it as fatal for the whole file.
var ErrCorrupt = errors.New("container: corrupt")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Kind identifies how a stream's event payloads are encoded.
type Kind string

const (
	KindCamera    Kind = "camera"
	KindTelemetry Kind = "telemetry"
	KindAudio     Kind = "audio"
	KindGeneric   Kind = "generic"
)

func (k Kind) valid() bool {
	switch k {
	case KindCamera, KindTelemetry, KindAudio, KindGeneric:
		return true
	}
	return false
}

// StreamConfig declares one stream of a sensor.
type StreamConfig struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// SensorConfig declares one sensor and its streams.
type SensorConfig struct {
	Name    string         `json:"name"`
	Streams []StreamConfig `json:"streams"`
}

// Config is the recording configuration stored alongside the chunks.
type Config struct {
	GroupName   string         `json:"group_name"`
	Destination string         `json:"destination,omitempty"`
	Sensors     []SensorConfig `json:"sensors"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// KindOf returns the declared kind for (sensor, stream).
func (c Config) KindOf(sensor, stream string) (Kind, bool) {
	for _, s := range c.Sensors {
		if s.Name != sensor {
			continue
		}
		for _, st := range s.Streams {
			if st.Name == stream {
				return st.Kind, true
			}
		}
	}
	return "", false
}

// StreamCount returns the total number of declared streams.
func (c Config) StreamCount() int {
	n := 0
	for _, s := range c.Sensors {
		n += len(s.Streams)
	}
	return n
}

func (c Config) validate() error {
	seen := make(map[string]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		if s.Name == "" {
			return corruptf("config: sensor with empty name")
		}
		if _, dup := seen[s.Name]; dup {
			return corruptf("config: duplicate sensor %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		streams := make(map[string]struct{}, len(s.Streams))
		for _, st := range s.Streams {
			if st.Name == "" {
				return corruptf("config: sensor %q has stream with empty name", s.Name)
			}
			if _, dup := streams[st.Name]; dup {
				return corruptf("config: sensor %q has duplicate stream %q", s.Name, st.Name)
			}
			streams[st.Name] = struct{}{}
			if !st.Kind.valid() {
				return corruptf("config: stream %s/%s has unknown kind %q", s.Name, st.Name, st.Kind)
			}
		}
	}
	return nil
}

// ChunkInfo describes one chunk's byte range and time coverage.
type ChunkInfo struct {
	Index  int
	Offset uint64
	Length uint64
	Start  float64 // seconds since recording start, inclusive
	End    float64 // seconds since recording start, exclusive
}

// Limits constrains container decode memory use.
type Limits struct {
	MaxConfigBytes uint32
	MaxChunkBytes  uint64
	MaxChunks      uint32
}

// DefaultLimits returns limits suitable for real recordings.
func DefaultLimits() Limits {
	return Limits{
		MaxConfigBytes: 4 * 1024 * 1024,
		MaxChunkBytes:  512 * 1024 * 1024,
		MaxChunks:      1 << 20,
	}
}
