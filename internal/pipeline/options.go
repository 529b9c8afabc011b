// SPDX-License-Identifier: MIT

package pipeline

import (
	"fmt"
	"strings"
)

// OnError selects how event-scoped decode errors are handled.
type OnError int

const (
	// SkipEvent drops the failing event and keeps decoding. Default.
	SkipEvent OnError = iota
	// SkipStream mutes the failing event's stream for the rest of the
	// decode; a structural truncation abandons the damaged chunk instead.
	SkipStream
	// Abort stops the decode with the event's error.
	Abort
)

// String returns the policy's config spelling.
func (p OnError) String() string {
	switch p {
	case SkipStream:
		return "skip-stream"
	case Abort:
		return "abort"
	default:
		return "skip-event"
	}
}

// ParseOnError maps a config spelling to its policy.
func ParseOnError(s string) (OnError, error) {
	switch s {
	case "skip-event", "":
		return SkipEvent, nil
	case "skip-stream":
		return SkipStream, nil
	case "abort":
		return Abort, nil
	default:
		return SkipEvent, fmt.Errorf("pipeline: unknown on-error policy %q", s)
	}
}

// HeaderMismatch selects how an event header that contradicts its
// structural stream name is handled.
type HeaderMismatch int

const (
	// HeaderWarn records a warning and keeps the event, trusting the
	// structural name. Default.
	HeaderWarn HeaderMismatch = iota
	// HeaderStrict treats the mismatch as an event error under OnError.
	HeaderStrict
)

// ParseHeaderMismatch maps a config spelling to its mode.
func ParseHeaderMismatch(s string) (HeaderMismatch, error) {
	switch s {
	case "warn", "":
		return HeaderWarn, nil
	case "strict":
		return HeaderStrict, nil
	default:
		return HeaderWarn, fmt.Errorf("pipeline: unknown header-mismatch mode %q", s)
	}
}

// Options tunes one decode run.
type Options struct {
	// Streams restricts decoding to the named streams. Entries match
	// either "sensor/stream" exactly or a bare stream name across all
	// sensors. Empty means every stream.
	Streams []string

	// CameraStride keeps every n-th row and column of camera frames.
	CameraStride int

	// OnError is the event-scoped error policy.
	OnError OnError

	// HeaderMismatch is the event header cross-check policy.
	HeaderMismatch HeaderMismatch

	// Prefetch reads the next chunk's bytes concurrently with the current
	// chunk's decode. Adds at most one chunk of extra memory.
	Prefetch bool
}

type includeFilter struct {
	exact map[string]struct{} // sensor/stream
	bare  map[string]struct{} // stream only
}

func compileFilter(streams []string) *includeFilter {
	if len(streams) == 0 {
		return nil
	}
	f := &includeFilter{
		exact: make(map[string]struct{}),
		bare:  make(map[string]struct{}),
	}
	for _, s := range streams {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			f.exact[s] = struct{}{}
		} else {
			f.bare[s] = struct{}{}
		}
	}
	return f
}

func (f *includeFilter) match(sensor, stream string) bool {
	if f == nil {
		return true
	}
	if _, ok := f.exact[sensor+"/"+stream]; ok {
		return true
	}
	_, ok := f.bare[stream]
	return ok
}
