// SPDX-License-Identifier: MIT

// Package wire packs and unpacks the nested binary layout of one chunk.
//
// Chunk layout (big-endian):
//
//	u32 sensor_count
//	  u32 name_len, name
//	  u32 stream_count
//	    u32 name_len, name
//	    u32 event_count
//	      u32 event_len, event blob
//
// Every event blob starts with a fixed 40-byte header: a 32-byte NUL-padded
// UTF-8 stream name followed by a float64 time delta in seconds. The
// remainder is the kind-specific payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// EventHeaderLen is the fixed size of the per-event header.
	EventHeaderLen = 40

	nameFieldLen = 32
)

var (
	// ErrTruncated marks a chunk damaged mid-structure: a declared length
	// exceeds the remaining bytes or an event blob is shorter than its
	// fixed header. Events decoded before the damage stay valid; the rest
	// of the chunk is unreadable.
	ErrTruncated = errors.New("wire: truncated event")

	// ErrHeaderMismatch marks an event whose embedded header names a
	// different stream than the structural position it was found in.
	ErrHeaderMismatch = errors.New("wire: event header stream mismatch")

	// ErrNameTooLong is returned when packing a stream name that does not
	// fit the fixed header field.
	ErrNameTooLong = errors.New("wire: stream name exceeds header field")
)

// RawEvent is one event lifted out of a chunk, header parsed but payload
// still opaque.
type RawEvent struct {
	Sensor       string
	Stream       string  // structural stream name
	HeaderStream string  // stream name from the event header
	TimeDelta    float64 // seconds since recording start
	Payload      []byte
}

// HeaderMismatch reports whether the embedded header disagrees with the
// structural stream name.
func (e RawEvent) HeaderMismatch() bool {
	return e.HeaderStream != e.Stream
}

type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) u32(what string) (uint32, error) {
	if c.remaining() < 4 {
		return 0, fmt.Errorf("%w: %s at offset %d", ErrTruncated, what, c.off)
	}
	v := binary.BigEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) take(n int, what string) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: %s wants %d bytes, %d remain", ErrTruncated, what, n, c.remaining())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// UnpackChunk parses one chunk into its events in encode order. On a
// truncation the events decoded so far are returned together with the error
// so callers can salvage the intact prefix.
func UnpackChunk(buf []byte) ([]RawEvent, error) {
	c := &cursor{buf: buf}

	sensorCount, err := c.u32("sensor count")
	if err != nil {
		return nil, err
	}

	var events []RawEvent
	for s := uint32(0); s < sensorCount; s++ {
		sensorName, err := readName(c, "sensor name")
		if err != nil {
			return events, err
		}
		streamCount, err := c.u32("stream count")
		if err != nil {
			return events, err
		}
		for st := uint32(0); st < streamCount; st++ {
			streamName, err := readName(c, "stream name")
			if err != nil {
				return events, err
			}
			eventCount, err := c.u32("event count")
			if err != nil {
				return events, err
			}
			for ev := uint32(0); ev < eventCount; ev++ {
				eventLen, err := c.u32("event length")
				if err != nil {
					return events, err
				}
				blob, err := c.take(int(eventLen), "event blob")
				if err != nil {
					return events, err
				}
				if len(blob) < EventHeaderLen {
					return events, fmt.Errorf("%w: event blob of %d bytes shorter than %d byte header",
						ErrTruncated, len(blob), EventHeaderLen)
				}
				headerName := trimName(blob[:nameFieldLen])
				delta := math.Float64frombits(binary.BigEndian.Uint64(blob[nameFieldLen:EventHeaderLen]))
				events = append(events, RawEvent{
					Sensor:       sensorName,
					Stream:       streamName,
					HeaderStream: headerName,
					TimeDelta:    delta,
					Payload:      blob[EventHeaderLen:],
				})
			}
		}
	}

	if c.remaining() != 0 {
		return events, fmt.Errorf("%w: %d trailing bytes after last sensor block", ErrTruncated, c.remaining())
	}
	return events, nil
}

func readName(c *cursor, what string) (string, error) {
	n, err := c.u32(what + " length")
	if err != nil {
		return "", err
	}
	b, err := c.take(int(n), what)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func trimName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// Event is one event to pack: the time delta and the kind-specific payload.
// HeaderName overrides the header stream name when non-empty; fixtures use
// it to produce deliberately mismatched events.
type Event struct {
	TimeDelta  float64
	Payload    []byte
	HeaderName string
}

// StreamBlock groups the events of one stream for packing.
type StreamBlock struct {
	Name   string
	Events []Event
}

// SensorBlock groups the streams of one sensor for packing.
type SensorBlock struct {
	Name    string
	Streams []StreamBlock
}

// PackChunk is the inverse of UnpackChunk.
func PackChunk(sensors []SensorBlock) ([]byte, error) {
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(sensors)))
	for _, sensor := range sensors {
		buf = appendName(buf, sensor.Name)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(sensor.Streams)))
		for _, stream := range sensor.Streams {
			buf = appendName(buf, stream.Name)
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(stream.Events)))
			for _, ev := range stream.Events {
				headerName := ev.HeaderName
				if headerName == "" {
					headerName = stream.Name
				}
				header, err := EncodeEventHeader(headerName, ev.TimeDelta)
				if err != nil {
					return nil, err
				}
				buf = binary.BigEndian.AppendUint32(buf, uint32(EventHeaderLen+len(ev.Payload)))
				buf = append(buf, header...)
				buf = append(buf, ev.Payload...)
			}
		}
	}
	return buf, nil
}

func appendName(buf []byte, name string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(name)))
	return append(buf, name...)
}

// EncodeEventHeader builds the fixed 40-byte event header.
func EncodeEventHeader(stream string, timeDelta float64) ([]byte, error) {
	if len(stream) > nameFieldLen {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, stream, len(stream))
	}
	header := make([]byte, EventHeaderLen)
	copy(header, stream)
	binary.BigEndian.PutUint64(header[nameFieldLen:], math.Float64bits(timeDelta))
	return header, nil
}
