// SPDX-License-Identifier: MIT

package payload

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// EncodeCamera builds a camera payload from raw row-major pixels.
func EncodeCamera(height, width, channels int, pixels []byte) ([]byte, error) {
	if want := height * width * channels; want != len(pixels) {
		return nil, fmt.Errorf("payload: camera %dx%dx%d wants %d pixel bytes, got %d",
			height, width, channels, want, len(pixels))
	}
	buf := make([]byte, 0, 12+len(pixels))
	buf = binary.BigEndian.AppendUint32(buf, uint32(height))
	buf = binary.BigEndian.AppendUint32(buf, uint32(width))
	buf = binary.BigEndian.AppendUint32(buf, uint32(channels))
	return append(buf, pixels...), nil
}

// EncodePressure builds a PRS telemetry payload.
func EncodePressure(p Pressure) ([]byte, error) {
	return encodeJSONTelemetry(TagPressure, p)
}

// EncodeGas builds a GAS telemetry payload.
func EncodeGas(g Gas) ([]byte, error) {
	return encodeJSONTelemetry(TagGas, g)
}

func encodeJSONTelemetry(tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("payload: marshal %s body: %w", tag, err)
	}
	return append([]byte(tag), body...), nil
}

// EncodeIMU builds an IMU telemetry payload.
func EncodeIMU(m IMU) []byte {
	buf := make([]byte, 0, tagLen+imuBodyLen)
	buf = append(buf, TagIMU...)
	buf = binary.BigEndian.AppendUint64(buf, m.Timestamp)
	fields := []float64{
		m.SensorID,
		m.Raw[0], m.Raw[1], m.Raw[2],
		m.Euler[0], m.Euler[1], m.Euler[2],
		m.Quat[0], m.Quat[1], m.Quat[2], m.Quat[3],
		m.QuatAccuracy,
	}
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	}
	return buf
}

// EncodeAudio builds an audio payload from a block table and interleaved PCM.
func EncodeAudio(a AudioBlocks) ([]byte, error) {
	if want := a.TotalFrames() * AudioChannels; want != len(a.PCM) {
		return nil, fmt.Errorf("payload: block table wants %d samples, got %d", want, len(a.PCM))
	}
	buf := make([]byte, 0, 4+len(a.SampleCounts)*4+len(a.PCM)*2)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.SampleCounts)))
	for _, c := range a.SampleCounts {
		buf = binary.BigEndian.AppendUint32(buf, uint32(c))
	}
	for _, s := range a.PCM {
		buf = binary.BigEndian.AppendUint16(buf, uint16(s))
	}
	return buf, nil
}
