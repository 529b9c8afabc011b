// SPDX-License-Identifier: MIT

package pipeline_test

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/payload"
	"github.com/opentouch/touchstream/internal/pipeline"
	"github.com/opentouch/touchstream/internal/timeline"
	"github.com/opentouch/touchstream/internal/wire"
)

// fixtureEvent is one event destined for a packed chunk, in stream order.
type fixtureEvent struct {
	sensor  string
	stream  string
	time    float64
	payload []byte
	header  string // overrides the event header name when non-empty
}

func buildChunk(t *testing.T, events []fixtureEvent) []byte {
	t.Helper()
	var sensors []wire.SensorBlock
	for _, ev := range events {
		si := -1
		for i := range sensors {
			if sensors[i].Name == ev.sensor {
				si = i
				break
			}
		}
		if si < 0 {
			sensors = append(sensors, wire.SensorBlock{Name: ev.sensor})
			si = len(sensors) - 1
		}
		sb := &sensors[si]
		ti := -1
		for i := range sb.Streams {
			if sb.Streams[i].Name == ev.stream {
				ti = i
				break
			}
		}
		if ti < 0 {
			sb.Streams = append(sb.Streams, wire.StreamBlock{Name: ev.stream})
			ti = len(sb.Streams) - 1
		}
		sb.Streams[ti].Events = append(sb.Streams[ti].Events, wire.Event{
			TimeDelta:  ev.time,
			Payload:    ev.payload,
			HeaderName: ev.header,
		})
	}
	blob, err := wire.PackChunk(sensors)
	require.NoError(t, err)
	return blob
}

type chunkSpec struct {
	blob  []byte
	start float64
	end   float64
}

func writeFixture(t *testing.T, cfg container.Config, chunks []chunkSpec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.touch")
	w, err := container.Create(path, cfg)
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, w.Append(c.blob, c.start, c.end))
	}
	require.NoError(t, w.Close())
	return path
}

func cameraPayload(t *testing.T, h, w, c int, seed byte) []byte {
	t.Helper()
	pixels := make([]byte, h*w*c)
	for i := range pixels {
		pixels[i] = seed + byte(i)
	}
	b, err := payload.EncodeCamera(h, w, c, pixels)
	require.NoError(t, err)
	return b
}

func pressurePayload(t *testing.T, p, temp float64) []byte {
	t.Helper()
	b, err := payload.EncodePressure(payload.Pressure{Pressure: p, Temperature: temp})
	require.NoError(t, err)
	return b
}

func gasPayload(t *testing.T) []byte {
	t.Helper()
	b, err := payload.EncodeGas(payload.Gas{
		Temperature: 22.5, Pressure: 990.25, Humidity: 40.5, Gas: 120000, GasIndex: 2,
	})
	require.NoError(t, err)
	return b
}

func imuPayload(i int) []byte {
	return payload.EncodeIMU(payload.IMU{
		Timestamp: uint64(i),
		SensorID:  1,
		Raw:       [3]float64{0.25, -0.5, 9.75},
		Euler:     [3]float64{10, 20, 30},
		Quat:      [4]float64{0, 0, 0, 1},
	})
}

func audioPayload(t *testing.T, frames int) []byte {
	t.Helper()
	pcm := make([]int16, 2*frames)
	for i := range pcm {
		pcm[i] = int16(100 * i)
		if i%2 == 1 {
			pcm[i] = -pcm[i]
		}
	}
	b, err := payload.EncodeAudio(payload.AudioBlocks{
		SampleCounts: []int32{int32(frames)},
		PCM:          pcm,
	})
	require.NoError(t, err)
	return b
}

func drainAll(t *testing.T, s *pipeline.Stream) []timeline.Sample {
	t.Helper()
	var out []timeline.Sample
	for {
		sample, err := s.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, sample)
	}
}

func sampleTimes(samples []timeline.Sample) []float64 {
	times := make([]float64, len(samples))
	for i, s := range samples {
		times[i] = s.Time
	}
	return times
}

// twoStreamConfig declares one sensor with two generic streams, the
// smallest shape that exercises merging and policies.
func twoStreamConfig() container.Config {
	return container.Config{
		GroupName: "bench",
		Sensors: []container.SensorConfig{
			{Name: "rig", Streams: []container.StreamConfig{
				{Name: "main", Kind: container.KindGeneric},
				{Name: "aux", Kind: container.KindGeneric},
			}},
		},
	}
}

func TestDecodeAllKindsRoundTrip(t *testing.T) {
	cfg := container.Config{
		GroupName: "bench",
		Sensors: []container.SensorConfig{
			{Name: "rig", Streams: []container.StreamConfig{
				{Name: "cam", Kind: container.KindCamera},
				{Name: "serial", Kind: container.KindTelemetry},
				{Name: "audio", Kind: container.KindAudio},
				{Name: "blob", Kind: container.KindGeneric},
			}},
		},
	}

	camPixels := make([]byte, 2*2*3)
	for i := range camPixels {
		camPixels[i] = byte(i)
	}
	camBytes, err := payload.EncodeCamera(2, 2, 3, camPixels)
	require.NoError(t, err)

	audioBytes, err := payload.EncodeAudio(payload.AudioBlocks{
		SampleCounts: []int32{2, 1},
		PCM:          []int16{100, -100, 200, -200, 300, -300},
	})
	require.NoError(t, err)

	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "cam", time: 0.1, payload: camBytes},
		{sensor: "rig", stream: "serial", time: 0.2, payload: pressurePayload(t, 1013.25, 21.5)},
		{sensor: "rig", stream: "serial", time: 0.3, payload: gasPayload(t)},
		{sensor: "rig", stream: "serial", time: 0.4, payload: imuPayload(7)},
		{sensor: "rig", stream: "audio", time: 0.5, payload: audioBytes},
		{sensor: "rig", stream: "blob", time: 0.6, payload: []byte("opaque-bytes")},
	})
	path := writeFixture(t, cfg, []chunkSpec{{blob: blob, start: 0, end: 1}})

	s, err := pipeline.Open(path, pipeline.Options{})
	require.NoError(t, err)
	defer s.Close()

	got := drainAll(t, s)
	want := []timeline.Sample{
		{Time: 0.1, Sensor: "rig", Stream: "cam", Path: "sensors/rig/cam",
			Payload: payload.CameraFrame{Height: 2, Width: 2, Channels: 3, Pixels: camPixels}},
		{Time: 0.2, Sensor: "rig", Stream: "serial", Path: "sensors/rig/serial/pressure",
			Payload: payload.Pressure{Pressure: 1013.25, Temperature: 21.5}},
		{Time: 0.3, Sensor: "rig", Stream: "serial", Path: "sensors/rig/serial/gas",
			Payload: payload.Gas{Temperature: 22.5, Pressure: 990.25, Humidity: 40.5, Gas: 120000, GasIndex: 2}},
		{Time: 0.4, Sensor: "rig", Stream: "serial", Path: "sensors/rig/serial/imu",
			Payload: payload.IMU{Timestamp: 7, SensorID: 1, Raw: [3]float64{0.25, -0.5, 9.75},
				Euler: [3]float64{10, 20, 30}, Quat: [4]float64{0, 0, 0, 1}}},
		{Time: 0.5, Sensor: "rig", Stream: "audio", Path: "sensors/rig/audio",
			Payload: payload.AudioBlocks{SampleCounts: []int32{2, 1}, PCM: []int16{100, -100, 200, -200, 300, -300}}},
		{Time: 0.6, Sensor: "rig", Stream: "blob", Path: "sensors/rig/blob",
			Payload: payload.GenericBlob{Data: []byte("opaque-bytes")}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded samples mismatch (-want +got):\n%s", diff)
	}

	sum := s.Summary()
	assert.Equal(t, 1, sum.Chunks)
	assert.Equal(t, 6, sum.Events)
	assert.Equal(t, 6, sum.Samples)
	assert.Zero(t, sum.Dropped)
	assert.Empty(t, sum.Warnings)
	assert.Equal(t, map[container.Kind]int{
		container.KindCamera:    1,
		container.KindTelemetry: 3,
		container.KindAudio:     1,
		container.KindGeneric:   1,
	}, sum.ByKind)
}

// TestTwoSensorRecording decodes a synthetic two-sensor rig: digit with a
// camera, digit360 with a camera, a telemetry serial stream at 100 Hz and
// an audio stream at 10 Hz, over two one-second chunks.
func TestTwoSensorRecording(t *testing.T) {
	cfg := container.Config{
		GroupName: "bench-rig",
		Sensors: []container.SensorConfig{
			{Name: "digit", Streams: []container.StreamConfig{
				{Name: "camera", Kind: container.KindCamera},
			}},
			{Name: "digit360", Streams: []container.StreamConfig{
				{Name: "camera", Kind: container.KindCamera},
				{Name: "serial", Kind: container.KindTelemetry},
				{Name: "audio", Kind: container.KindAudio},
			}},
		},
	}

	serialPayload := func(i int) []byte {
		switch i % 3 {
		case 0:
			return pressurePayload(t, 1000+float64(i), 20)
		case 1:
			return gasPayload(t)
		default:
			return imuPayload(i)
		}
	}

	// Chunk 1 carries digit's 30 camera frames, chunk 2 digit360's 30;
	// serial and audio run through both chunks at their full rates. The
	// sub-second offsets keep every timestamp distinct across streams.
	var chunk1, chunk2 []fixtureEvent
	for i := 0; i < 30; i++ {
		chunk1 = append(chunk1, fixtureEvent{
			sensor: "digit", stream: "camera",
			time:    float64(i)/30 + 0.0001,
			payload: cameraPayload(t, 2, 2, 3, byte(i)),
		})
		chunk2 = append(chunk2, fixtureEvent{
			sensor: "digit360", stream: "camera",
			time:    1 + float64(i)/30 + 0.0002,
			payload: cameraPayload(t, 2, 2, 3, byte(i)),
		})
	}
	for i := 0; i < 200; i++ {
		ev := fixtureEvent{
			sensor: "digit360", stream: "serial",
			time:    float64(i)/100 + 0.0003,
			payload: serialPayload(i),
		}
		if i < 100 {
			chunk1 = append(chunk1, ev)
		} else {
			chunk2 = append(chunk2, ev)
		}
	}
	for i := 0; i < 20; i++ {
		ev := fixtureEvent{
			sensor: "digit360", stream: "audio",
			time:    float64(i)/10 + 0.0004,
			payload: audioPayload(t, 2),
		}
		if i < 10 {
			chunk1 = append(chunk1, ev)
		} else {
			chunk2 = append(chunk2, ev)
		}
	}

	path := writeFixture(t, cfg, []chunkSpec{
		{blob: buildChunk(t, chunk1), start: 0, end: 1},
		{blob: buildChunk(t, chunk2), start: 1, end: 2},
	})

	s, err := pipeline.Open(path, pipeline.Options{})
	require.NoError(t, err)
	defer s.Close()

	samples := drainAll(t, s)
	require.Len(t, samples, 280)

	for i, sample := range samples {
		require.GreaterOrEqual(t, sample.Time, 0.0)
		require.Less(t, sample.Time, 2.0)
		if i > 0 {
			require.Greater(t, sample.Time, samples[i-1].Time,
				"sample %d out of order", i)
		}
	}

	byPath := map[string]int{}
	for _, sample := range samples {
		byPath[sample.Path]++
	}
	assert.Equal(t, map[string]int{
		"sensors/digit/camera":             30,
		"sensors/digit360/camera":          30,
		"sensors/digit360/serial/pressure": 67,
		"sensors/digit360/serial/gas":      67,
		"sensors/digit360/serial/imu":      66,
		"sensors/digit360/audio":           20,
	}, byPath)

	sum := s.Summary()
	assert.Equal(t, 2, sum.Chunks)
	assert.Equal(t, 280, sum.Samples)
	assert.Zero(t, sum.Dropped)
	assert.Empty(t, sum.Warnings)
}

func TestDecodeIsDeterministic(t *testing.T) {
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "main", time: 0.1, payload: []byte("m1")},
		{sensor: "rig", stream: "main", time: 0.2, payload: []byte("m2")},
		{sensor: "rig", stream: "aux", time: 0.2, payload: []byte("a1")},
		{sensor: "rig", stream: "aux", time: 0.3, payload: []byte("a2")},
	})
	path := writeFixture(t, twoStreamConfig(), []chunkSpec{{blob: blob, start: 0, end: 1}})

	decode := func() []timeline.Sample {
		s, err := pipeline.Open(path, pipeline.Options{})
		require.NoError(t, err)
		defer s.Close()
		return drainAll(t, s)
	}

	first := decode()
	second := decode()
	require.Len(t, first, 4)
	// Equal timestamps order by (sensor, stream): aux before main at 0.2.
	assert.Equal(t, "aux", first[1].Stream)
	assert.Equal(t, "main", first[2].Stream)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated decode differs (-first +second):\n%s", diff)
	}
}

func TestClockRegressionDropsSingleEvent(t *testing.T) {
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "main", time: 0.1, payload: []byte("a")},
		{sensor: "rig", stream: "main", time: 0.2, payload: []byte("b")},
		{sensor: "rig", stream: "main", time: 0.5, payload: []byte("c")},
		{sensor: "rig", stream: "main", time: 0.3, payload: []byte("x")}, // runs behind 0.5
		{sensor: "rig", stream: "main", time: 0.6, payload: []byte("d")},
		{sensor: "rig", stream: "aux", time: 0.15, payload: []byte("e")},
		{sensor: "rig", stream: "aux", time: 0.45, payload: []byte("f")},
	})
	path := writeFixture(t, twoStreamConfig(), []chunkSpec{{blob: blob, start: 0, end: 1}})

	s, err := pipeline.Open(path, pipeline.Options{})
	require.NoError(t, err)
	defer s.Close()

	samples := drainAll(t, s)
	assert.Equal(t, []float64{0.1, 0.15, 0.2, 0.45, 0.5, 0.6}, sampleTimes(samples))

	sum := s.Summary()
	assert.Equal(t, 1, sum.Dropped)
	require.Len(t, sum.Warnings, 1)
	assert.Equal(t, pipeline.ReasonClockRegression, sum.Warnings[0].Reason)
	assert.Equal(t, 0.3, sum.Warnings[0].Time)
	assert.Equal(t, "main", sum.Warnings[0].Stream)
}

func TestTruncatedChunkPolicies(t *testing.T) {
	intact := func(base float64) []byte {
		return buildChunk(t, []fixtureEvent{
			{sensor: "rig", stream: "main", time: base + 0.1, payload: []byte("payload1")},
			{sensor: "rig", stream: "main", time: base + 0.2, payload: []byte("payload2")},
			{sensor: "rig", stream: "main", time: base + 0.3, payload: []byte("payload3")},
		})
	}

	damaged := intact(1.0)
	damaged = damaged[:len(damaged)-3] // cut into the last event's payload
	salvaged, err := wire.UnpackChunk(damaged)
	require.ErrorIs(t, err, wire.ErrTruncated)
	require.Len(t, salvaged, 2)

	chunks := []chunkSpec{
		{blob: intact(0), start: 0, end: 1},
		{blob: damaged, start: 1, end: 2},
		{blob: intact(2.0), start: 2, end: 3},
	}

	t.Run("skip-event salvages the damaged chunk's prefix", func(t *testing.T) {
		path := writeFixture(t, twoStreamConfig(), chunks)
		s, err := pipeline.Open(path, pipeline.Options{OnError: pipeline.SkipEvent})
		require.NoError(t, err)
		defer s.Close()

		samples := drainAll(t, s)
		assert.Equal(t, []float64{0.1, 0.2, 0.3, 1.1, 1.2, 2.1, 2.2, 2.3}, sampleTimes(samples))

		sum := s.Summary()
		require.Len(t, sum.Warnings, 1)
		assert.Equal(t, pipeline.ReasonTruncatedEvent, sum.Warnings[0].Reason)
		assert.Equal(t, 1, sum.Warnings[0].Chunk)
	})

	t.Run("skip-stream abandons the damaged chunk", func(t *testing.T) {
		path := writeFixture(t, twoStreamConfig(), chunks)
		s, err := pipeline.Open(path, pipeline.Options{OnError: pipeline.SkipStream})
		require.NoError(t, err)
		defer s.Close()

		samples := drainAll(t, s)
		assert.Equal(t, []float64{0.1, 0.2, 0.3, 2.1, 2.2, 2.3}, sampleTimes(samples))

		sum := s.Summary()
		require.Len(t, sum.Warnings, 1)
		assert.Equal(t, pipeline.ReasonChunkAbandoned, sum.Warnings[0].Reason)
	})

	t.Run("abort stops at the damaged chunk", func(t *testing.T) {
		path := writeFixture(t, twoStreamConfig(), chunks)
		s, err := pipeline.Open(path, pipeline.Options{OnError: pipeline.Abort})
		require.NoError(t, err)
		defer s.Close()

		var got []timeline.Sample
		var nextErr error
		for {
			sample, err := s.Next(context.Background())
			if err != nil {
				nextErr = err
				break
			}
			got = append(got, sample)
		}
		require.ErrorIs(t, nextErr, wire.ErrTruncated)
		assert.Equal(t, []float64{0.1, 0.2, 0.3}, sampleTimes(got))
	})
}

func TestUnknownTelemetryTagNeverAborts(t *testing.T) {
	cfg := container.Config{
		GroupName: "bench",
		Sensors: []container.SensorConfig{
			{Name: "rig", Streams: []container.StreamConfig{
				{Name: "serial", Kind: container.KindTelemetry},
			}},
		},
	}
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "serial", time: 0.1, payload: pressurePayload(t, 1000, 20)},
		{sensor: "rig", stream: "serial", time: 0.2, payload: []byte("XYZ{\"v\":1}")},
		{sensor: "rig", stream: "serial", time: 0.3, payload: gasPayload(t)},
	})
	path := writeFixture(t, cfg, []chunkSpec{{blob: blob, start: 0, end: 1}})

	s, err := pipeline.Open(path, pipeline.Options{OnError: pipeline.Abort})
	require.NoError(t, err)
	defer s.Close()

	samples := drainAll(t, s)
	assert.Equal(t, []float64{0.1, 0.3}, sampleTimes(samples))

	sum := s.Summary()
	require.Len(t, sum.Warnings, 1)
	assert.Equal(t, pipeline.ReasonUnknownTelemetryTag, sum.Warnings[0].Reason)
}

func TestHeaderMismatchPolicies(t *testing.T) {
	chunks := []chunkSpec{
		{blob: buildChunk(t, []fixtureEvent{
			{sensor: "rig", stream: "main", time: 0.1, payload: []byte("ok1")},
			{sensor: "rig", stream: "main", time: 0.2, payload: []byte("bad"), header: "ghost"},
			{sensor: "rig", stream: "main", time: 0.3, payload: []byte("ok2")},
			{sensor: "rig", stream: "aux", time: 0.15, payload: []byte("aux1")},
		}), start: 0, end: 1},
		{blob: buildChunk(t, []fixtureEvent{
			{sensor: "rig", stream: "main", time: 1.1, payload: []byte("ok3")},
			{sensor: "rig", stream: "aux", time: 1.2, payload: []byte("aux2")},
		}), start: 1, end: 2},
	}

	tests := []struct {
		name        string
		opts        pipeline.Options
		wantTimes   []float64
		wantReasons []string
	}{
		{
			name:        "warn keeps the event under the structural name",
			opts:        pipeline.Options{HeaderMismatch: pipeline.HeaderWarn},
			wantTimes:   []float64{0.1, 0.15, 0.2, 0.3, 1.1, 1.2},
			wantReasons: []string{pipeline.ReasonHeaderMismatch},
		},
		{
			name:        "strict skip-event drops the event",
			opts:        pipeline.Options{HeaderMismatch: pipeline.HeaderStrict, OnError: pipeline.SkipEvent},
			wantTimes:   []float64{0.1, 0.15, 0.3, 1.1, 1.2},
			wantReasons: []string{pipeline.ReasonHeaderMismatch},
		},
		{
			name:      "strict skip-stream mutes the stream for the rest of the decode",
			opts:      pipeline.Options{HeaderMismatch: pipeline.HeaderStrict, OnError: pipeline.SkipStream},
			wantTimes: []float64{0.1, 0.15, 1.2},
			wantReasons: []string{
				pipeline.ReasonHeaderMismatch,
				pipeline.ReasonStreamMuted,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFixture(t, twoStreamConfig(), chunks)
			s, err := pipeline.Open(path, tc.opts)
			require.NoError(t, err)
			defer s.Close()

			samples := drainAll(t, s)
			assert.Equal(t, tc.wantTimes, sampleTimes(samples))

			var reasons []string
			for _, w := range s.Summary().Warnings {
				reasons = append(reasons, w.Reason)
			}
			assert.Equal(t, tc.wantReasons, reasons)
		})
	}

	t.Run("strict abort fails the decode", func(t *testing.T) {
		path := writeFixture(t, twoStreamConfig(), chunks)
		s, err := pipeline.Open(path, pipeline.Options{
			HeaderMismatch: pipeline.HeaderStrict,
			OnError:        pipeline.Abort,
		})
		require.NoError(t, err)
		defer s.Close()

		_, err = s.Next(context.Background())
		require.ErrorIs(t, err, wire.ErrHeaderMismatch)
	})
}

func TestAudioLengthMismatchPolicies(t *testing.T) {
	cfg := container.Config{
		GroupName: "bench",
		Sensors: []container.SensorConfig{
			{Name: "rig", Streams: []container.StreamConfig{
				{Name: "audio", Kind: container.KindAudio},
				{Name: "cam", Kind: container.KindCamera},
			}},
		},
	}

	bad := audioPayload(t, 5)
	bad = bad[:len(bad)-2] // PCM region two bytes short of the block table

	chunks := []chunkSpec{
		{blob: buildChunk(t, []fixtureEvent{
			{sensor: "rig", stream: "audio", time: 0.1, payload: audioPayload(t, 2)},
			{sensor: "rig", stream: "audio", time: 0.2, payload: bad},
			{sensor: "rig", stream: "cam", time: 0.15, payload: cameraPayload(t, 2, 2, 1, 0)},
		}), start: 0, end: 1},
		{blob: buildChunk(t, []fixtureEvent{
			{sensor: "rig", stream: "audio", time: 1.1, payload: audioPayload(t, 2)},
			{sensor: "rig", stream: "cam", time: 1.15, payload: cameraPayload(t, 2, 2, 1, 0)},
		}), start: 1, end: 2},
	}

	t.Run("skip-event drops only the bad event", func(t *testing.T) {
		path := writeFixture(t, cfg, chunks)
		s, err := pipeline.Open(path, pipeline.Options{OnError: pipeline.SkipEvent})
		require.NoError(t, err)
		defer s.Close()

		samples := drainAll(t, s)
		assert.Equal(t, []float64{0.1, 0.15, 1.1, 1.15}, sampleTimes(samples))

		sum := s.Summary()
		require.Len(t, sum.Warnings, 1)
		assert.Equal(t, pipeline.ReasonAudioLengthMismatch, sum.Warnings[0].Reason)
	})

	t.Run("skip-stream mutes audio across chunks", func(t *testing.T) {
		path := writeFixture(t, cfg, chunks)
		s, err := pipeline.Open(path, pipeline.Options{OnError: pipeline.SkipStream})
		require.NoError(t, err)
		defer s.Close()

		samples := drainAll(t, s)
		assert.Equal(t, []float64{0.1, 0.15, 1.15}, sampleTimes(samples))

		var reasons []string
		for _, w := range s.Summary().Warnings {
			reasons = append(reasons, w.Reason)
		}
		assert.Equal(t, []string{
			pipeline.ReasonAudioLengthMismatch,
			pipeline.ReasonStreamMuted,
		}, reasons)
	})
}

func TestCameraDimensionChangeWarns(t *testing.T) {
	cfg := container.Config{
		GroupName: "bench",
		Sensors: []container.SensorConfig{
			{Name: "rig", Streams: []container.StreamConfig{
				{Name: "cam", Kind: container.KindCamera},
			}},
		},
	}
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "cam", time: 0.1, payload: cameraPayload(t, 4, 4, 3, 0)},
		{sensor: "rig", stream: "cam", time: 0.2, payload: cameraPayload(t, 2, 2, 3, 0)},
		{sensor: "rig", stream: "cam", time: 0.3, payload: cameraPayload(t, 2, 2, 3, 0)},
	})
	path := writeFixture(t, cfg, []chunkSpec{{blob: blob, start: 0, end: 1}})

	s, err := pipeline.Open(path, pipeline.Options{})
	require.NoError(t, err)
	defer s.Close()

	samples := drainAll(t, s)
	require.Len(t, samples, 3)

	sum := s.Summary()
	assert.Zero(t, sum.Dropped)
	require.Len(t, sum.Warnings, 1)
	assert.Equal(t, pipeline.ReasonDimensionChange, sum.Warnings[0].Reason)
	assert.Equal(t, 0.2, sum.Warnings[0].Time)
}

func TestCameraStride(t *testing.T) {
	cfg := container.Config{
		GroupName: "bench",
		Sensors: []container.SensorConfig{
			{Name: "rig", Streams: []container.StreamConfig{
				{Name: "cam", Kind: container.KindCamera},
			}},
		},
	}
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "cam", time: 0.1, payload: cameraPayload(t, 4, 4, 3, 0)},
	})
	path := writeFixture(t, cfg, []chunkSpec{{blob: blob, start: 0, end: 1}})

	s, err := pipeline.Open(path, pipeline.Options{CameraStride: 2})
	require.NoError(t, err)
	defer s.Close()

	samples := drainAll(t, s)
	require.Len(t, samples, 1)
	frame, ok := samples[0].Payload.(payload.CameraFrame)
	require.True(t, ok)
	assert.Equal(t, 2, frame.Height)
	assert.Equal(t, 2, frame.Width)
	assert.Equal(t, 3, frame.Channels)
	assert.Len(t, frame.Pixels, 2*2*3)
}

func TestStreamFilter(t *testing.T) {
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "main", time: 0.1, payload: []byte("m1")},
		{sensor: "rig", stream: "aux", time: 0.2, payload: []byte("a1")},
		{sensor: "rig", stream: "main", time: 0.3, payload: []byte("m2")},
	})

	tests := []struct {
		name      string
		streams   []string
		wantTimes []float64
	}{
		{"sensor-qualified", []string{"rig/main"}, []float64{0.1, 0.3}},
		{"bare stream name", []string{"aux"}, []float64{0.2}},
		{"no filter", nil, []float64{0.1, 0.2, 0.3}},
		{"no match", []string{"other/none"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFixture(t, twoStreamConfig(), []chunkSpec{{blob: blob, start: 0, end: 1}})
			s, err := pipeline.Open(path, pipeline.Options{Streams: tc.streams})
			require.NoError(t, err)
			defer s.Close()

			samples := drainAll(t, s)
			assert.Equal(t, tc.wantTimes, sampleTimes(samples))
			assert.Empty(t, s.Summary().Warnings)
		})
	}
}

func TestUndeclaredStreamDecodesAsGeneric(t *testing.T) {
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "main", time: 0.1, payload: []byte("m1")},
		{sensor: "rig", stream: "surprise", time: 0.2, payload: []byte{0xde, 0xad}},
	})
	path := writeFixture(t, twoStreamConfig(), []chunkSpec{{blob: blob, start: 0, end: 1}})

	s, err := pipeline.Open(path, pipeline.Options{})
	require.NoError(t, err)
	defer s.Close()

	samples := drainAll(t, s)
	require.Len(t, samples, 2)
	assert.Equal(t, "sensors/rig/surprise", samples[1].Path)
	assert.Equal(t, payload.GenericBlob{Data: []byte{0xde, 0xad}}, samples[1].Payload)
}

// countingSource serves pre-packed chunks and records every fetch, so tests
// can observe exactly when the pipeline pulls data.
type countingSource struct {
	cfg   container.Config
	blobs [][]byte
	infos []container.ChunkInfo

	mu    sync.Mutex
	reads int
}

func newCountingSource(t *testing.T, nChunks, perChunk int) *countingSource {
	t.Helper()
	src := &countingSource{
		cfg: container.Config{
			GroupName: "synthetic",
			Sensors: []container.SensorConfig{
				{Name: "rig", Streams: []container.StreamConfig{
					{Name: "signal", Kind: container.KindGeneric},
				}},
			},
		},
	}
	for c := 0; c < nChunks; c++ {
		var events []fixtureEvent
		for e := 0; e < perChunk; e++ {
			events = append(events, fixtureEvent{
				sensor: "rig", stream: "signal",
				time:    float64(c) + float64(e)*0.1,
				payload: []byte{byte(c), byte(e)},
			})
		}
		src.blobs = append(src.blobs, buildChunk(t, events))
		src.infos = append(src.infos, container.ChunkInfo{
			Index: c, Start: float64(c), End: float64(c + 1),
		})
	}
	return src
}

func (s *countingSource) Config() container.Config      { return s.cfg }
func (s *countingSource) Chunks() []container.ChunkInfo { return s.infos }
func (s *countingSource) Close() error                  { return nil }

func (s *countingSource) ReadChunk(ctx context.Context, i int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	out := make([]byte, len(s.blobs[i]))
	copy(out, s.blobs[i])
	return out, nil
}

func (s *countingSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// TestLazyChunkFetch pins the memory bound: without prefetch the pipeline
// holds exactly one chunk at a time, fetched only when the iterator crosses
// into it, each chunk exactly once regardless of recording length.
func TestLazyChunkFetch(t *testing.T) {
	const nChunks, perChunk = 40, 5
	src := newCountingSource(t, nChunks, perChunk)
	s := pipeline.New(src, pipeline.Options{})
	defer s.Close()

	ctx := context.Background()
	for c := 0; c < nChunks; c++ {
		for e := 0; e < perChunk; e++ {
			_, err := s.Next(ctx)
			require.NoError(t, err)
			require.Equal(t, c+1, src.readCount(), "chunk %d event %d", c, e)
		}
	}
	_, err := s.Next(ctx)
	require.Equal(t, io.EOF, err)
	assert.Equal(t, nChunks, src.readCount())
}

func TestPrefetchStaysOneAhead(t *testing.T) {
	const nChunks, perChunk = 8, 4
	src := newCountingSource(t, nChunks, perChunk)
	s := pipeline.New(src, pipeline.Options{Prefetch: true})
	defer s.Close()

	ctx := context.Background()
	for c := 0; c < nChunks; c++ {
		for e := 0; e < perChunk; e++ {
			_, err := s.Next(ctx)
			require.NoError(t, err)
			require.LessOrEqual(t, src.readCount(), c+2,
				"prefetch ran more than one chunk ahead at chunk %d", c)
		}
	}
	_, err := s.Next(ctx)
	require.Equal(t, io.EOF, err)
	assert.Equal(t, nChunks, src.readCount())
}

func TestCloseReleasesPrefetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "main", time: 0.1, payload: []byte("m1")},
		{sensor: "rig", stream: "main", time: 0.2, payload: []byte("m2")},
	})
	path := writeFixture(t, twoStreamConfig(), []chunkSpec{
		{blob: blob, start: 0, end: 1},
		{blob: buildChunk(t, []fixtureEvent{
			{sensor: "rig", stream: "main", time: 1.1, payload: []byte("m3")},
		}), start: 1, end: 2},
		{blob: buildChunk(t, []fixtureEvent{
			{sensor: "rig", stream: "main", time: 2.1, payload: []byte("m4")},
		}), start: 2, end: 3},
	})

	s, err := pipeline.Open(path, pipeline.Options{Prefetch: true})
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, pipeline.ErrClosed)
}

func TestReopenYieldsIdenticalSequence(t *testing.T) {
	blob := buildChunk(t, []fixtureEvent{
		{sensor: "rig", stream: "main", time: 0.1, payload: []byte("m1")},
		{sensor: "rig", stream: "aux", time: 0.2, payload: []byte("a1")},
	})
	path := writeFixture(t, twoStreamConfig(), []chunkSpec{{blob: blob, start: 0, end: 1}})

	first, err := pipeline.Open(path, pipeline.Options{})
	require.NoError(t, err)
	seqA := drainAll(t, first)
	// Exhausted streams stay exhausted.
	_, err = first.Next(context.Background())
	require.Equal(t, io.EOF, err)
	require.NoError(t, first.Close())

	second, err := pipeline.Open(path, pipeline.Options{})
	require.NoError(t, err)
	seqB := drainAll(t, second)
	require.NoError(t, second.Close())

	if diff := cmp.Diff(seqA, seqB); diff != "" {
		t.Fatalf("re-decode differs (-first +second):\n%s", diff)
	}
}

func TestNextHonorsContext(t *testing.T) {
	src := newCountingSource(t, 2, 2)
	s := pipeline.New(src, pipeline.Options{})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
