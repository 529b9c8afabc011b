// SPDX-License-Identifier: MIT

// Package pipeline turns a recording container into a lazy, memory-bounded
// sequence of canonical samples: chunk fetch, unpack, per-kind payload
// decode and time merge, one chunk at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/log"
	"github.com/opentouch/touchstream/internal/metrics"
	"github.com/opentouch/touchstream/internal/payload"
	"github.com/opentouch/touchstream/internal/timeline"
	"github.com/opentouch/touchstream/internal/wire"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("pipeline: stream closed")

// Source is the chunk access surface the pipeline pulls from.
// container.Reader implements it; tests substitute instrumented fakes.
type Source interface {
	Config() container.Config
	Chunks() []container.ChunkInfo
	ReadChunk(ctx context.Context, i int) ([]byte, error)
	Close() error
}

type streamKey struct {
	sensor string
	stream string
}

// Stream is one decode run. It is a pull iterator: no work happens between
// Next calls beyond the optional one-ahead prefetch.
type Stream struct {
	src   Source
	owned bool
	opts  Options
	cfg   container.Config
	filt  *includeFilter
	log   zerolog.Logger

	merger *timeline.Merger
	chunks []container.ChunkInfo

	muted   map[streamKey]struct{}
	camDims map[streamKey][3]int

	queue     []timeline.Sample
	qpos      int
	nextChunk int

	summary Summary

	// prefetch state
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pending  *pendingFetch

	closed bool
}

type pendingFetch struct {
	idx int
	ch  chan fetchResult
}

type fetchResult struct {
	buf []byte
	err error
}

// Open opens a container and starts a decode run over it. The returned
// Stream owns the container handle and releases it on Close.
func Open(path string, opts Options) (*Stream, error) {
	src, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	s := New(src, opts)
	s.owned = true
	return s, nil
}

// New starts a decode run over an existing source. The caller keeps
// ownership of src unless the Stream was built by Open.
func New(src Source, opts Options) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		src:      src,
		opts:     opts,
		cfg:      src.Config(),
		filt:     compileFilter(opts.Streams),
		log:      log.WithComponent("pipeline"),
		merger:   timeline.NewMerger(),
		chunks:   src.Chunks(),
		muted:    make(map[streamKey]struct{}),
		camDims:  make(map[streamKey][3]int),
		lifetime: ctx,
		cancel:   cancel,
		summary:  Summary{ByKind: make(map[container.Kind]int)},
	}
}

// Next returns the next canonical sample in non-decreasing time order.
// It returns io.EOF when the recording is exhausted.
func (s *Stream) Next(ctx context.Context) (timeline.Sample, error) {
	if s.closed {
		return timeline.Sample{}, ErrClosed
	}
	for {
		if s.qpos < len(s.queue) {
			out := s.queue[s.qpos]
			s.queue[s.qpos] = timeline.Sample{} // release payload reference
			s.qpos++
			return out, nil
		}
		if s.nextChunk >= len(s.chunks) {
			return timeline.Sample{}, io.EOF
		}
		if err := s.loadChunk(ctx, s.nextChunk); err != nil {
			return timeline.Sample{}, err
		}
		s.nextChunk++
	}
}

// loadChunk fetches, unpacks, decodes and merges one chunk into the queue.
// Chunk-structural damage is handled per policy; container errors propagate.
func (s *Stream) loadChunk(ctx context.Context, idx int) error {
	raw, err := s.fetch(ctx, idx)
	if err != nil {
		return err
	}
	started := time.Now()

	events, truncErr := wire.UnpackChunk(raw)
	if truncErr != nil {
		if !errors.Is(truncErr, wire.ErrTruncated) {
			return fmt.Errorf("chunk %d: %w", idx, truncErr)
		}
		switch s.opts.OnError {
		case Abort:
			return fmt.Errorf("chunk %d: %w", idx, truncErr)
		case SkipStream:
			// The rest of the chunk is structurally unreadable; abandon
			// the whole chunk rather than trusting a partial parse.
			s.warn(Warning{
				Chunk:  idx,
				Reason: ReasonChunkAbandoned,
				Detail: truncErr.Error(),
			})
			events = nil
		default:
			s.warn(Warning{
				Chunk:  idx,
				Reason: ReasonTruncatedEvent,
				Detail: fmt.Sprintf("%v; %d events salvaged", truncErr, len(events)),
			})
		}
	}
	s.summary.Events += len(events)

	kept, err := s.screenEvents(idx, events)
	if err != nil {
		return err
	}

	ordered, regressions := s.merger.MergeChunk(kept)
	for _, reg := range regressions {
		s.summary.Dropped++
		s.warn(Warning{
			Chunk:  idx,
			Sensor: reg.Event.Sensor,
			Stream: reg.Event.Stream,
			Time:   reg.Event.TimeDelta,
			Reason: ReasonClockRegression,
			Detail: fmt.Sprintf("time %v runs behind %v", reg.Event.TimeDelta, reg.LastTime),
		})
	}

	queue, err := s.decodeEvents(idx, ordered)
	if err != nil {
		return err
	}

	s.queue = queue
	s.qpos = 0
	s.summary.Chunks++
	metrics.DecodeChunksTotal.Inc()
	metrics.ObserveChunkDecode(time.Since(started))

	if s.opts.Prefetch && idx+1 < len(s.chunks) {
		s.startPrefetch(idx + 1)
	}
	return nil
}

// screenEvents applies the stream filter, mute set and header cross-check
// before any payload decoding happens.
func (s *Stream) screenEvents(idx int, events []wire.RawEvent) ([]wire.RawEvent, error) {
	kept := events[:0]
	for _, ev := range events {
		key := streamKey{ev.Sensor, ev.Stream}
		if !s.filt.match(ev.Sensor, ev.Stream) {
			continue
		}
		if _, muted := s.muted[key]; muted {
			continue
		}
		if ev.HeaderMismatch() {
			w := Warning{
				Chunk:  idx,
				Sensor: ev.Sensor,
				Stream: ev.Stream,
				Time:   ev.TimeDelta,
				Reason: ReasonHeaderMismatch,
				Detail: fmt.Sprintf("header names stream %q", ev.HeaderStream),
			}
			if s.opts.HeaderMismatch == HeaderStrict {
				switch s.opts.OnError {
				case Abort:
					return nil, fmt.Errorf("chunk %d %s/%s at %v: %w (header names %q)",
						idx, ev.Sensor, ev.Stream, ev.TimeDelta, wire.ErrHeaderMismatch, ev.HeaderStream)
				case SkipStream:
					s.muteStream(idx, key, w)
					continue
				default:
					s.warn(w)
					continue
				}
			}
			// Trust the structural name and keep the event.
			s.warn(w)
		}
		kept = append(kept, ev)
	}
	return kept, nil
}

// decodeEvents turns ordered raw events into canonical samples, applying
// the event-scoped error policy per event.
func (s *Stream) decodeEvents(idx int, ordered []wire.RawEvent) ([]timeline.Sample, error) {
	queue := make([]timeline.Sample, 0, len(ordered))
	decodeOpts := payload.Options{CameraStride: s.opts.CameraStride}

	for _, ev := range ordered {
		key := streamKey{ev.Sensor, ev.Stream}
		if _, muted := s.muted[key]; muted {
			continue
		}
		kind, ok := s.cfg.KindOf(ev.Sensor, ev.Stream)
		if !ok {
			// Streams missing from the config decode as opaque blobs.
			kind = container.KindGeneric
		}

		sample, err := payload.Decode(kind, ev.Payload, decodeOpts)
		if err != nil {
			if err := s.handleEventError(idx, ev, err); err != nil {
				return nil, err
			}
			continue
		}

		if frame, ok := sample.(payload.CameraFrame); ok {
			s.checkDims(idx, ev, key, frame)
		}

		queue = append(queue, timeline.Sample{
			Time:    ev.TimeDelta,
			Sensor:  ev.Sensor,
			Stream:  ev.Stream,
			Path:    timeline.EntityPath(ev.Sensor, ev.Stream, sample),
			Payload: sample,
		})
		s.summary.Samples++
		s.summary.ByKind[kind]++
		metrics.IncDecodeSamples(string(kind), 1)
	}
	return queue, nil
}

// handleEventError applies the on-error policy to one event's decode error.
// Unknown telemetry tags are pinned to skip+warn regardless of policy.
func (s *Stream) handleEventError(idx int, ev wire.RawEvent, err error) error {
	key := streamKey{ev.Sensor, ev.Stream}
	w := Warning{
		Chunk:  idx,
		Sensor: ev.Sensor,
		Stream: ev.Stream,
		Time:   ev.TimeDelta,
		Reason: reasonFor(err),
		Detail: err.Error(),
	}

	if errors.Is(err, payload.ErrUnknownTelemetryTag) {
		s.warn(w)
		return nil
	}

	switch s.opts.OnError {
	case Abort:
		return fmt.Errorf("chunk %d %s/%s at %v: %w", idx, ev.Sensor, ev.Stream, ev.TimeDelta, err)
	case SkipStream:
		s.muteStream(idx, key, w)
		return nil
	default:
		s.warn(w)
		return nil
	}
}

func (s *Stream) muteStream(idx int, key streamKey, cause Warning) {
	s.warn(cause)
	if _, already := s.muted[key]; already {
		return
	}
	s.muted[key] = struct{}{}
	s.warn(Warning{
		Chunk:  idx,
		Sensor: key.sensor,
		Stream: key.stream,
		Reason: ReasonStreamMuted,
		Detail: "remaining events of this stream are skipped",
	})
}

// checkDims records a warning whenever a camera stream's frame shape departs
// from the previous frame's shape. Varying dimensions are legal, a viewer
// just needs to know about them.
func (s *Stream) checkDims(idx int, ev wire.RawEvent, key streamKey, frame payload.CameraFrame) {
	dims := [3]int{frame.Height, frame.Width, frame.Channels}
	prev, seen := s.camDims[key]
	if !seen {
		s.camDims[key] = dims
		return
	}
	if prev != dims {
		s.camDims[key] = dims
		s.warn(Warning{
			Chunk:  idx,
			Sensor: ev.Sensor,
			Stream: ev.Stream,
			Time:   ev.TimeDelta,
			Reason: ReasonDimensionChange,
			Detail: fmt.Sprintf("frame is %dx%dx%d, previous frame was %dx%dx%d",
				dims[0], dims[1], dims[2], prev[0], prev[1], prev[2]),
		})
	}
}

func (s *Stream) warn(w Warning) {
	s.summary.Warnings = append(s.summary.Warnings, w)
	metrics.IncDecodeWarning(w.Reason)
	s.log.Warn().
		Str(log.FieldEvent, "decode.warning").
		Int(log.FieldChunk, w.Chunk).
		Str(log.FieldSensor, w.Sensor).
		Str(log.FieldStream, w.Stream).
		Str("reason", w.Reason).
		Msg(w.Detail)
}

// fetch returns chunk idx's raw bytes, consuming the prefetched result when
// one is pending for that index.
func (s *Stream) fetch(ctx context.Context, idx int) ([]byte, error) {
	if p := s.pending; p != nil && p.idx == idx {
		select {
		case res := <-p.ch:
			s.pending = nil
			return res.buf, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.src.ReadChunk(ctx, idx)
}

func (s *Stream) startPrefetch(idx int) {
	p := &pendingFetch{idx: idx, ch: make(chan fetchResult, 1)}
	s.pending = p
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf, err := s.src.ReadChunk(s.lifetime, idx)
		p.ch <- fetchResult{buf: buf, err: err}
	}()
}

// Summary returns a snapshot of the decode statistics so far.
func (s *Stream) Summary() Summary {
	return s.summary.clone()
}

// Config returns the recording configuration of the underlying source.
func (s *Stream) Config() container.Config {
	return s.cfg
}

// Close releases the prefetch buffer and, for streams built by Open, the
// container handle. Safe to call at any point of the iteration and more
// than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.wg.Wait()
	s.pending = nil
	s.queue = nil
	if s.owned {
		return s.src.Close()
	}
	return nil
}
