// SPDX-License-Identifier: MIT

package wire

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleSensors() []SensorBlock {
	return []SensorBlock{
		{
			Name: "digit",
			Streams: []StreamBlock{
				{Name: "camera", Events: []Event{
					{TimeDelta: 0.0, Payload: []byte("frame-0")},
					{TimeDelta: 0.033, Payload: []byte("frame-1")},
				}},
			},
		},
		{
			Name: "digit360",
			Streams: []StreamBlock{
				{Name: "serial", Events: []Event{
					{TimeDelta: 0.01, Payload: []byte("imu")},
				}},
				{Name: "audio", Events: []Event{}},
			},
		},
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	buf, err := PackChunk(sampleSensors())
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}

	events, err := UnpackChunk(buf)
	if err != nil {
		t.Fatalf("UnpackChunk: %v", err)
	}

	want := []RawEvent{
		{Sensor: "digit", Stream: "camera", HeaderStream: "camera", TimeDelta: 0.0, Payload: []byte("frame-0")},
		{Sensor: "digit", Stream: "camera", HeaderStream: "camera", TimeDelta: 0.033, Payload: []byte("frame-1")},
		{Sensor: "digit360", Stream: "serial", HeaderStream: "serial", TimeDelta: 0.01, Payload: []byte("imu")},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestUnpackEmptyChunk(t *testing.T) {
	buf, err := PackChunk(nil)
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}
	events, err := UnpackChunk(buf)
	if err != nil {
		t.Fatalf("UnpackChunk: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestUnpackOrderIsEncodeOrder(t *testing.T) {
	buf, err := PackChunk(sampleSensors())
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}
	events, err := UnpackChunk(buf)
	if err != nil {
		t.Fatalf("UnpackChunk: %v", err)
	}

	got := make([]string, len(events))
	for i, ev := range events {
		got[i] = ev.Sensor + "/" + ev.Stream
	}
	want := []string{"digit/camera", "digit/camera", "digit360/serial"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderMismatchDetected(t *testing.T) {
	sensors := []SensorBlock{{
		Name: "digit",
		Streams: []StreamBlock{
			{Name: "camera", Events: []Event{
				{TimeDelta: 0.1, Payload: []byte("x"), HeaderName: "audio"},
			}},
		},
	}}
	buf, err := PackChunk(sensors)
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}
	events, err := UnpackChunk(buf)
	if err != nil {
		t.Fatalf("UnpackChunk: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].HeaderMismatch() {
		t.Error("expected header mismatch to be detected")
	}
	if events[0].Stream != "camera" || events[0].HeaderStream != "audio" {
		t.Errorf("got stream=%q header=%q", events[0].Stream, events[0].HeaderStream)
	}
}

func TestUnpackTruncation(t *testing.T) {
	valid, err := PackChunk(sampleSensors())
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}

	tests := []struct {
		name       string
		mutate     func([]byte) []byte
		wantEvents int // intact events salvaged before the damage
	}{
		{
			name:   "empty buffer",
			mutate: func(b []byte) []byte { return nil },
		},
		{
			name:   "cut inside sensor count",
			mutate: func(b []byte) []byte { return b[:2] },
		},
		{
			name:   "cut inside first sensor name",
			mutate: func(b []byte) []byte { return b[:10] },
		},
		{
			name: "cut inside second event blob",
			mutate: func(b []byte) []byte {
				// The second camera event blob spans bytes 86..133 of the
				// fixture; cutting at 100 leaves the first event intact.
				return b[:100]
			},
			wantEvents: 1,
		},
		{
			name: "declared event length exceeds remaining bytes",
			mutate: func(b []byte) []byte {
				// The first event length prefix sits after: u32 sensor
				// count, u32+5 sensor name, u32 stream count, u32+6
				// stream name, u32 event count.
				off := 4 + (4 + 5) + 4 + (4 + 6) + 4
				binary.BigEndian.PutUint32(b[off:], uint32(len(b)))
				return b
			},
		},
		{
			name: "event blob shorter than fixed header",
			mutate: func(b []byte) []byte {
				off := 4 + (4 + 5) + 4 + (4 + 6) + 4
				binary.BigEndian.PutUint32(b[off:], 10)
				return b[:off+4+10]
			},
		},
		{
			name: "trailing bytes after last block",
			mutate: func(b []byte) []byte {
				return append(b, 0xFF)
			},
			wantEvents: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), valid...))
			events, err := UnpackChunk(buf)
			if !errors.Is(err, ErrTruncated) {
				t.Fatalf("UnpackChunk error = %v, want ErrTruncated", err)
			}
			if len(events) != tt.wantEvents {
				t.Errorf("salvaged %d events, want %d", len(events), tt.wantEvents)
			}
		})
	}
}

func TestEncodeEventHeaderRejectsLongName(t *testing.T) {
	_, err := EncodeEventHeader("this-stream-name-is-way-too-long-to-fit", 0)
	if !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("error = %v, want ErrNameTooLong", err)
	}
}

func TestEventHeaderRoundTrip(t *testing.T) {
	header, err := EncodeEventHeader("camera", 1.25)
	if err != nil {
		t.Fatalf("EncodeEventHeader: %v", err)
	}
	if len(header) != EventHeaderLen {
		t.Fatalf("header length = %d, want %d", len(header), EventHeaderLen)
	}

	// Wrap it into a minimal chunk and unpack.
	sensors := []SensorBlock{{
		Name:    "s",
		Streams: []StreamBlock{{Name: "camera", Events: []Event{{TimeDelta: 1.25, Payload: []byte("p")}}}},
	}}
	buf, err := PackChunk(sensors)
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}
	events, err := UnpackChunk(buf)
	if err != nil {
		t.Fatalf("UnpackChunk: %v", err)
	}
	if events[0].TimeDelta != 1.25 {
		t.Errorf("TimeDelta = %v, want 1.25", events[0].TimeDelta)
	}
	if events[0].HeaderStream != "camera" {
		t.Errorf("HeaderStream = %q, want camera", events[0].HeaderStream)
	}
}
