// SPDX-License-Identifier: MIT

// Package payload decodes the kind-specific bytes of one event into typed
// samples. Decoding is pure: bytes in, sample out, no state between events.
package payload

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/wire"
)

// Telemetry payload tags. The tag is the first three bytes of every
// telemetry event payload.
const (
	TagPressure = "PRS"
	TagGas      = "GAS"
	TagIMU      = "IMU"

	tagLen = 3
)

// AudioChannels is the fixed channel count of audio payloads.
const AudioChannels = 2

var (
	// ErrUnknownTelemetryTag marks a telemetry event with an unrecognized
	// tag. The event is skippable; the tag set is open on the wire.
	ErrUnknownTelemetryTag = errors.New("payload: unknown telemetry tag")

	// ErrAudioLengthMismatch marks an audio event whose sample bytes do
	// not add up to its block table.
	ErrAudioLengthMismatch = errors.New("payload: audio length mismatch")

	// ErrMalformed marks an event payload that has the right length but
	// cannot be parsed, such as invalid telemetry JSON.
	ErrMalformed = errors.New("payload: malformed")

	// ErrUnknownKind marks a dispatch on a kind outside the closed set.
	ErrUnknownKind = errors.New("payload: unknown stream kind")
)

// Sample is one decoded event payload.
type Sample interface {
	Kind() container.Kind
}

// Telemetry is a Sample with a sub-kind used in entity paths.
type Telemetry interface {
	Sample
	Subkind() string
}

// CameraFrame is a row-major interleaved image.
type CameraFrame struct {
	Height   int
	Width    int
	Channels int
	Pixels   []byte
}

func (CameraFrame) Kind() container.Kind { return container.KindCamera }

// Pressure carries one pressure/temperature reading.
type Pressure struct {
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

func (Pressure) Kind() container.Kind { return container.KindTelemetry }
func (Pressure) Subkind() string      { return "pressure" }

// Gas carries one environmental gas reading.
type Gas struct {
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Humidity    float64 `json:"humidity"`
	Gas         float64 `json:"gas"`
	GasIndex    float64 `json:"gas_index"`
}

func (Gas) Kind() container.Kind { return container.KindTelemetry }
func (Gas) Subkind() string      { return "gas" }

// IMU carries one packed inertial record.
type IMU struct {
	Timestamp    uint64
	SensorID     float64
	Raw          [3]float64 // x, y, z
	Euler        [3]float64 // heading, pitch, roll
	Quat         [4]float64 // x, y, z, w
	QuatAccuracy float64
}

func (IMU) Kind() container.Kind { return container.KindTelemetry }
func (IMU) Subkind() string      { return "imu" }

// imuBodyLen is u64 timestamp plus twelve float64 fields.
const imuBodyLen = 8 + 12*8

// AudioBlocks carries interleaved 2-channel PCM for a burst of blocks.
type AudioBlocks struct {
	SampleCounts []int32 // per-block frame counts
	PCM          []int16 // interleaved L/R for all blocks
}

func (AudioBlocks) Kind() container.Kind { return container.KindAudio }

// TotalFrames sums the block table.
func (a AudioBlocks) TotalFrames() int {
	n := 0
	for _, c := range a.SampleCounts {
		n += int(c)
	}
	return n
}

// GenericBlob is an opaque passthrough payload.
type GenericBlob struct {
	Data []byte
}

func (GenericBlob) Kind() container.Kind { return container.KindGeneric }

// Options tunes decoding.
type Options struct {
	// CameraStride keeps every n-th row and column of camera frames.
	// Values below 2 keep full frames.
	CameraStride int
}

// Decode parses one event payload according to the stream's declared kind.
func Decode(kind container.Kind, data []byte, opts Options) (Sample, error) {
	switch kind {
	case container.KindCamera:
		return decodeCamera(data, opts.CameraStride)
	case container.KindTelemetry:
		return decodeTelemetry(data)
	case container.KindAudio:
		return decodeAudio(data)
	case container.KindGeneric:
		return GenericBlob{Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeCamera(data []byte, stride int) (Sample, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: camera payload of %d bytes lacks dimensions", wire.ErrTruncated, len(data))
	}
	h := int(binary.BigEndian.Uint32(data[0:4]))
	w := int(binary.BigEndian.Uint32(data[4:8]))
	c := int(binary.BigEndian.Uint32(data[8:12]))

	want := uint64(h) * uint64(w) * uint64(c)
	got := uint64(len(data) - 12)
	if got < want {
		return nil, fmt.Errorf("%w: camera %dx%dx%d wants %d pixel bytes, has %d",
			wire.ErrTruncated, h, w, c, want, got)
	}
	if got > want {
		return nil, fmt.Errorf("%w: camera %dx%dx%d has %d trailing pixel bytes",
			ErrMalformed, h, w, c, got-want)
	}
	pixels := data[12:]

	if stride < 2 || h == 0 || w == 0 {
		return CameraFrame{Height: h, Width: w, Channels: c, Pixels: pixels}, nil
	}

	// Spatial downsample: keep rows and columns whose index is a multiple
	// of the stride, mirroring frame[::n, ::n].
	outH := (h + stride - 1) / stride
	outW := (w + stride - 1) / stride
	out := make([]byte, 0, outH*outW*c)
	for row := 0; row < h; row += stride {
		rowStart := row * w * c
		for col := 0; col < w; col += stride {
			px := rowStart + col*c
			out = append(out, pixels[px:px+c]...)
		}
	}
	return CameraFrame{Height: outH, Width: outW, Channels: c, Pixels: out}, nil
}

func decodeTelemetry(data []byte) (Sample, error) {
	if len(data) < tagLen {
		return nil, fmt.Errorf("%w: telemetry payload of %d bytes lacks tag", wire.ErrTruncated, len(data))
	}
	tag := string(data[:tagLen])
	body := data[tagLen:]

	switch tag {
	case TagPressure:
		var p Pressure
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("%w: pressure body: %v", ErrMalformed, err)
		}
		return p, nil
	case TagGas:
		var g Gas
		if err := json.Unmarshal(body, &g); err != nil {
			return nil, fmt.Errorf("%w: gas body: %v", ErrMalformed, err)
		}
		return g, nil
	case TagIMU:
		return decodeIMU(body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTelemetryTag, tag)
	}
}

func decodeIMU(body []byte) (Sample, error) {
	if len(body) < imuBodyLen {
		return nil, fmt.Errorf("%w: imu body of %d bytes, want %d", wire.ErrTruncated, len(body), imuBodyLen)
	}
	if len(body) > imuBodyLen {
		return nil, fmt.Errorf("%w: imu body has %d trailing bytes", ErrMalformed, len(body)-imuBodyLen)
	}

	f := func(i int) float64 {
		off := 8 + i*8
		return math.Float64frombits(binary.BigEndian.Uint64(body[off : off+8]))
	}
	return IMU{
		Timestamp:    binary.BigEndian.Uint64(body[0:8]),
		SensorID:     f(0),
		Raw:          [3]float64{f(1), f(2), f(3)},
		Euler:        [3]float64{f(4), f(5), f(6)},
		Quat:         [4]float64{f(7), f(8), f(9), f(10)},
		QuatAccuracy: f(11),
	}, nil
}

func decodeAudio(data []byte) (Sample, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: audio payload of %d bytes lacks block count", wire.ErrTruncated, len(data))
	}
	blockCount := int32(binary.BigEndian.Uint32(data[0:4]))
	if blockCount < 0 {
		return nil, fmt.Errorf("%w: negative audio block count %d", ErrMalformed, blockCount)
	}

	tableEnd := 4 + int(blockCount)*4
	if len(data) < tableEnd {
		return nil, fmt.Errorf("%w: audio block table truncated", wire.ErrTruncated)
	}

	counts := make([]int32, blockCount)
	totalFrames := 0
	for i := range counts {
		c := int32(binary.BigEndian.Uint32(data[4+i*4:]))
		if c < 0 {
			return nil, fmt.Errorf("%w: negative audio sample count %d in block %d", ErrMalformed, c, i)
		}
		counts[i] = c
		totalFrames += int(c)
	}

	// Interleaved stereo, two bytes per sample.
	wantBytes := totalFrames * AudioChannels * 2
	gotBytes := len(data) - tableEnd
	if gotBytes != wantBytes {
		return nil, fmt.Errorf("%w: block table wants %d sample bytes, payload has %d",
			ErrAudioLengthMismatch, wantBytes, gotBytes)
	}

	pcm := make([]int16, totalFrames*AudioChannels)
	for i := range pcm {
		pcm[i] = int16(binary.BigEndian.Uint16(data[tableEnd+i*2:]))
	}
	return AudioBlocks{SampleCounts: counts, PCM: pcm}, nil
}
