// SPDX-License-Identifier: MIT

// Package sink writes and reads .otl timeline archives, the converted form
// of a recording: a flat big-endian frame sequence holding a manifest, the
// canonical samples in time order and a closing summary.
//
//	archive  := u32 magic "OTL1", u16 version, u16 flags, frame...
//	frame    := u8 type, u32 body_len, body
//	manifest := JSON (frame type 1, first frame)
//	sample   := u8 kind, f64 time, u16 path_len, path,
//	            u32 payload_len, payload  (frame type 2)
//	summary  := JSON (frame type 3, last frame)
//
// Sample payloads reuse the recording wire encodings, so an archive entry
// decodes with the same payload codecs as a live recording.
package sink

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/payload"
	"github.com/opentouch/touchstream/internal/timeline"
)

const (
	// Magic opens every archive, "OTL1" big-endian.
	Magic uint32 = 0x4F544C31
	// Version is the current archive layout version.
	Version uint16 = 1

	frameManifest byte = 1
	frameSample   byte = 2
	frameSummary  byte = 3

	headerLen   = 8
	maxFrameLen = 512 << 20
	maxPathLen  = 1 << 16
)

// ErrCorrupt marks an archive that cannot be trusted: bad magic or version,
// malformed frames, or a missing closing summary.
var ErrCorrupt = errors.New("sink: corrupt archive")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Manifest describes the recording an archive was converted from.
type Manifest struct {
	GroupName string                   `json:"group_name"`
	Source    string                   `json:"source,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	Sensors   []container.SensorConfig `json:"sensors"`
}

// Summary closes an archive with the decode run's counts.
type Summary struct {
	Chunks   int            `json:"chunks"`
	Events   int            `json:"events"`
	Samples  int            `json:"samples"`
	Dropped  int            `json:"dropped"`
	Warnings int            `json:"warnings"`
	ByKind   map[string]int `json:"by_kind,omitempty"`
}

var kindCodes = map[container.Kind]byte{
	container.KindCamera:    1,
	container.KindTelemetry: 2,
	container.KindAudio:     3,
	container.KindGeneric:   4,
}

var codeKinds = map[byte]container.Kind{
	1: container.KindCamera,
	2: container.KindTelemetry,
	3: container.KindAudio,
	4: container.KindGeneric,
}

// Writer emits one archive to an io.Writer, streaming one sample frame per
// WriteSample. Finish must be called exactly once; the caller owns the
// underlying writer's lifetime.
type Writer struct {
	w        *bufio.Writer
	samples  int
	finished bool
}

// NewWriter writes the archive header and manifest frame.
func NewWriter(w io.Writer, m Manifest) (*Writer, error) {
	bw := bufio.NewWriter(w)

	var header [headerLen]byte
	binary.BigEndian.PutUint32(header[0:], Magic)
	binary.BigEndian.PutUint16(header[4:], Version)
	if _, err := bw.Write(header[:]); err != nil {
		return nil, fmt.Errorf("sink: write header: %w", err)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("sink: marshal manifest: %w", err)
	}
	sw := &Writer{w: bw}
	if err := sw.writeFrame(frameManifest, body); err != nil {
		return nil, err
	}
	return sw, nil
}

// WriteSample appends one canonical sample frame.
func (w *Writer) WriteSample(s timeline.Sample) error {
	if w.finished {
		return errors.New("sink: write after finish")
	}
	encoded, err := encodePayload(s.Payload)
	if err != nil {
		return err
	}
	if len(s.Path) >= maxPathLen {
		return fmt.Errorf("sink: entity path %d bytes long", len(s.Path))
	}
	code, ok := kindCodes[s.Payload.Kind()]
	if !ok {
		return fmt.Errorf("sink: no frame code for kind %q", s.Payload.Kind())
	}

	body := make([]byte, 0, 1+8+2+len(s.Path)+4+len(encoded))
	body = append(body, code)
	body = binary.BigEndian.AppendUint64(body, math.Float64bits(s.Time))
	body = binary.BigEndian.AppendUint16(body, uint16(len(s.Path)))
	body = append(body, s.Path...)
	body = binary.BigEndian.AppendUint32(body, uint32(len(encoded)))
	body = append(body, encoded...)

	if err := w.writeFrame(frameSample, body); err != nil {
		return err
	}
	w.samples++
	return nil
}

// Samples returns the number of sample frames written so far.
func (w *Writer) Samples() int { return w.samples }

// Finish writes the summary frame and flushes. The archive is complete only
// after Finish returns nil.
func (w *Writer) Finish(sum Summary) error {
	if w.finished {
		return errors.New("sink: finish called twice")
	}
	w.finished = true
	body, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("sink: marshal summary: %w", err)
	}
	if err := w.writeFrame(frameSummary, body); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) writeFrame(frameType byte, body []byte) error {
	var head [5]byte
	head[0] = frameType
	binary.BigEndian.PutUint32(head[1:], uint32(len(body)))
	if _, err := w.w.Write(head[:]); err != nil {
		return fmt.Errorf("sink: write frame: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("sink: write frame: %w", err)
	}
	return nil
}

func encodePayload(p payload.Sample) ([]byte, error) {
	switch v := p.(type) {
	case payload.CameraFrame:
		return payload.EncodeCamera(v.Height, v.Width, v.Channels, v.Pixels)
	case payload.Pressure:
		return payload.EncodePressure(v)
	case payload.Gas:
		return payload.EncodeGas(v)
	case payload.IMU:
		return payload.EncodeIMU(v), nil
	case payload.AudioBlocks:
		return payload.EncodeAudio(v)
	case payload.GenericBlob:
		return v.Data, nil
	default:
		return nil, fmt.Errorf("sink: unsupported sample type %T", p)
	}
}

// Entry is one archived sample, payload still in wire form.
type Entry struct {
	Time    float64
	Kind    container.Kind
	Path    string
	Payload []byte
}

// Decode parses the entry's payload with the recording codecs.
func (e Entry) Decode() (payload.Sample, error) {
	return payload.Decode(e.Kind, e.Payload, payload.Options{})
}

// Reader iterates one archive. The archive must end with a summary frame;
// anything else reports ErrCorrupt.
type Reader struct {
	r        *bufio.Reader
	manifest Manifest
	summary  *Summary
}

// NewReader checks the header and reads the manifest frame.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	var header [headerLen]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, corruptf("short header: %v", err)
	}
	if m := binary.BigEndian.Uint32(header[0:]); m != Magic {
		return nil, corruptf("bad magic 0x%08x", m)
	}
	if v := binary.BigEndian.Uint16(header[4:]); v != Version {
		return nil, corruptf("unsupported version %d", v)
	}

	frameType, body, err := readFrame(br)
	if err != nil {
		return nil, err
	}
	if frameType != frameManifest {
		return nil, corruptf("first frame is type %d, want manifest", frameType)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, corruptf("manifest: %v", err)
	}
	return &Reader{r: br, manifest: m}, nil
}

// Manifest returns the archive's recording metadata.
func (r *Reader) Manifest() Manifest { return r.manifest }

// Next returns the next sample entry, or io.EOF after the summary frame.
func (r *Reader) Next() (Entry, error) {
	if r.summary != nil {
		return Entry{}, io.EOF
	}
	frameType, body, err := readFrame(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, corruptf("archive ends without summary")
		}
		return Entry{}, err
	}
	switch frameType {
	case frameSample:
		return parseSample(body)
	case frameSummary:
		var sum Summary
		if err := json.Unmarshal(body, &sum); err != nil {
			return Entry{}, corruptf("summary: %v", err)
		}
		r.summary = &sum
		return Entry{}, io.EOF
	default:
		return Entry{}, corruptf("unexpected frame type %d", frameType)
	}
}

// Summary returns the closing summary once Next has reached it.
func (r *Reader) Summary() (Summary, bool) {
	if r.summary == nil {
		return Summary{}, false
	}
	return *r.summary, true
}

func readFrame(r *bufio.Reader) (byte, []byte, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, corruptf("short frame header: %v", err)
	}
	length := binary.BigEndian.Uint32(head[1:])
	if length > maxFrameLen {
		return 0, nil, corruptf("frame of %d bytes exceeds limit", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, corruptf("short frame body: %v", err)
	}
	return head[0], body, nil
}

func parseSample(body []byte) (Entry, error) {
	if len(body) < 1+8+2 {
		return Entry{}, corruptf("sample frame %d bytes long", len(body))
	}
	kind, ok := codeKinds[body[0]]
	if !ok {
		return Entry{}, corruptf("unknown sample kind code %d", body[0])
	}
	t := math.Float64frombits(binary.BigEndian.Uint64(body[1:9]))
	pathLen := int(binary.BigEndian.Uint16(body[9:11]))
	rest := body[11:]
	if len(rest) < pathLen+4 {
		return Entry{}, corruptf("sample frame path overruns body")
	}
	path := string(rest[:pathLen])
	rest = rest[pathLen:]
	payloadLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) != payloadLen {
		return Entry{}, corruptf("sample payload wants %d bytes, frame has %d", payloadLen, len(rest))
	}
	return Entry{Time: t, Kind: kind, Path: path, Payload: rest}, nil
}
