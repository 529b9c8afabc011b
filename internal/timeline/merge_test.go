// SPDX-License-Identifier: MIT

package timeline

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opentouch/touchstream/internal/payload"
	"github.com/opentouch/touchstream/internal/wire"
)

func ev(sensor, stream string, t float64) wire.RawEvent {
	return wire.RawEvent{Sensor: sensor, Stream: stream, HeaderStream: stream, TimeDelta: t}
}

func times(events []wire.RawEvent) []float64 {
	out := make([]float64, len(events))
	for i, e := range events {
		out[i] = e.TimeDelta
	}
	return out
}

func TestMergeChunkOrders(t *testing.T) {
	// Unpacker order: sensor-major, stream-major, not time order.
	events := []wire.RawEvent{
		ev("digit", "camera", 0.0),
		ev("digit", "camera", 0.4),
		ev("digit360", "serial", 0.1),
		ev("digit360", "serial", 0.2),
		ev("digit360", "serial", 0.3),
		ev("digit360", "audio", 0.05),
	}

	ordered, dropped := NewMerger().MergeChunk(events)
	if len(dropped) != 0 {
		t.Fatalf("unexpected drops: %+v", dropped)
	}

	want := []float64{0.0, 0.05, 0.1, 0.2, 0.3, 0.4}
	if diff := cmp.Diff(want, times(ordered)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeChunkTieBreakDeterministic(t *testing.T) {
	events := []wire.RawEvent{
		ev("zeta", "camera", 1.0),
		ev("alpha", "serial", 1.0),
		ev("alpha", "audio", 1.0),
	}

	for run := 0; run < 5; run++ {
		ordered, _ := NewMerger().MergeChunk(events)
		got := make([]string, len(ordered))
		for i, e := range ordered {
			got[i] = e.Sensor + "/" + e.Stream
		}
		want := []string{"alpha/audio", "alpha/serial", "zeta/camera"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("run %d tie-break mismatch (-want +got):\n%s", run, diff)
		}
	}
}

func TestMergeChunkSingleRegression(t *testing.T) {
	events := []wire.RawEvent{
		ev("digit", "camera", 0.1),
		ev("digit", "camera", 0.5),
		ev("digit", "camera", 0.3), // runs backwards
		ev("digit", "camera", 0.6),
		ev("digit360", "serial", 0.2),
		ev("digit360", "serial", 0.4),
	}

	ordered, dropped := NewMerger().MergeChunk(events)

	if len(dropped) != 1 {
		t.Fatalf("dropped %d events, want exactly 1", len(dropped))
	}
	if dropped[0].Event.TimeDelta != 0.3 || dropped[0].LastTime != 0.5 {
		t.Errorf("dropped = {time %v, last %v}, want {0.3, 0.5}", dropped[0].Event.TimeDelta, dropped[0].LastTime)
	}

	want := []float64{0.1, 0.2, 0.4, 0.5, 0.6}
	if diff := cmp.Diff(want, times(ordered)); diff != "" {
		t.Errorf("surviving events mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeRegressionAcrossChunks(t *testing.T) {
	m := NewMerger()

	first, dropped := m.MergeChunk([]wire.RawEvent{
		ev("digit", "camera", 0.8),
		ev("digit", "camera", 0.9),
	})
	if len(first) != 2 || len(dropped) != 0 {
		t.Fatalf("chunk 1: %d emitted, %d dropped", len(first), len(dropped))
	}

	// The stream's clock must not rewind at a chunk boundary.
	second, dropped := m.MergeChunk([]wire.RawEvent{
		ev("digit", "camera", 0.85),
		ev("digit", "camera", 1.0),
	})
	if len(dropped) != 1 {
		t.Fatalf("chunk 2 dropped %d events, want 1", len(dropped))
	}
	if dropped[0].Event.TimeDelta != 0.85 || dropped[0].LastTime != 0.9 {
		t.Errorf("dropped = {%v, last %v}, want {0.85, 0.9}", dropped[0].Event.TimeDelta, dropped[0].LastTime)
	}
	if diff := cmp.Diff([]float64{1.0}, times(second)); diff != "" {
		t.Errorf("chunk 2 output mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeEqualTimesWithinStreamKeepOrder(t *testing.T) {
	a := ev("s", "x", 1.0)
	a.Payload = []byte{1}
	b := ev("s", "x", 1.0)
	b.Payload = []byte{2}

	ordered, dropped := NewMerger().MergeChunk([]wire.RawEvent{a, b})
	if len(dropped) != 0 {
		t.Fatalf("unexpected drops: %+v", dropped)
	}
	if len(ordered) != 2 || ordered[0].Payload[0] != 1 || ordered[1].Payload[0] != 2 {
		t.Error("equal-time events within a stream must keep their original order")
	}
}

func TestMergeOutputNonDecreasing(t *testing.T) {
	// Random per-stream monotone runs must always merge to a globally
	// non-decreasing sequence.
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		var events []wire.RawEvent
		for s := 0; s < 4; s++ {
			sensor := string(rune('a' + s))
			t0 := rng.Float64()
			for i := 0; i < 50; i++ {
				t0 += rng.Float64() * 0.05
				events = append(events, ev(sensor, "stream", t0))
			}
		}
		ordered, dropped := NewMerger().MergeChunk(events)
		if len(dropped) != 0 {
			t.Fatalf("trial %d: unexpected drops", trial)
		}
		if !sort.Float64sAreSorted(times(ordered)) {
			t.Fatalf("trial %d: output not sorted", trial)
		}
		if len(ordered) != len(events) {
			t.Fatalf("trial %d: lost events: %d != %d", trial, len(ordered), len(events))
		}
	}
}

func TestEntityPath(t *testing.T) {
	tests := []struct {
		name    string
		sensor  string
		stream  string
		payload payload.Sample
		want    string
	}{
		{
			name:    "camera",
			sensor:  "digit",
			stream:  "camera",
			payload: payload.CameraFrame{},
			want:    "sensors/digit/camera",
		},
		{
			name:    "pressure telemetry",
			sensor:  "digit360",
			stream:  "serial",
			payload: payload.Pressure{},
			want:    "sensors/digit360/serial/pressure",
		},
		{
			name:    "gas telemetry",
			sensor:  "digit360",
			stream:  "serial",
			payload: payload.Gas{},
			want:    "sensors/digit360/serial/gas",
		},
		{
			name:    "imu telemetry",
			sensor:  "digit360",
			stream:  "serial",
			payload: payload.IMU{},
			want:    "sensors/digit360/serial/imu",
		},
		{
			name:    "audio",
			sensor:  "digit360",
			stream:  "audio",
			payload: payload.AudioBlocks{},
			want:    "sensors/digit360/audio",
		},
		{
			name:    "generic",
			sensor:  "probe",
			stream:  "raw",
			payload: payload.GenericBlob{},
			want:    "sensors/probe/raw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EntityPath(tt.sensor, tt.stream, tt.payload)
			if got != tt.want {
				t.Errorf("EntityPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
