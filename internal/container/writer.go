// SPDX-License-Identifier: MIT

package container

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Writer appends chunks to a new container file. The chunk index is written
// on Close and back-patched into the header, so chunk payloads stream to
// disk without buffering.
type Writer struct {
	f      *os.File
	offset uint64
	chunks []ChunkInfo
	closed bool
}

// Create starts a new container at path with the given config.
func Create(path string, cfg Config) (*Writer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("container: create: %w", err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("container: marshal config: %w", err)
	}

	// #nosec G304 -- output paths come from the operator
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("container: create %s: %w", path, err)
	}

	head := make([]byte, headerLen)
	binary.BigEndian.PutUint32(head[0:4], Magic)
	binary.BigEndian.PutUint16(head[4:6], Version1)
	binary.BigEndian.PutUint16(head[6:8], 0)
	binary.BigEndian.PutUint64(head[8:16], 0) // index offset patched on Close
	binary.BigEndian.PutUint32(head[16:20], uint32(len(raw)))

	if _, err := f.Write(head); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("container: write header: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("container: write config: %w", err)
	}

	return &Writer{f: f, offset: uint64(headerLen) + uint64(len(raw))}, nil
}

// Append writes one chunk blob covering [start, end). Chunks must be
// appended in time order and may not overlap.
func (w *Writer) Append(blob []byte, start, end float64) error {
	if w.closed {
		return fmt.Errorf("container: append after close")
	}
	if math.IsNaN(start) || math.IsNaN(end) || end < start {
		return fmt.Errorf("container: invalid chunk time range [%v,%v)", start, end)
	}
	if n := len(w.chunks); n > 0 && start < w.chunks[n-1].End {
		return fmt.Errorf("container: chunk starting at %v overlaps previous chunk ending at %v",
			start, w.chunks[n-1].End)
	}
	if _, err := w.f.Write(blob); err != nil {
		return fmt.Errorf("container: write chunk: %w", err)
	}
	w.chunks = append(w.chunks, ChunkInfo{
		Index:  len(w.chunks),
		Offset: w.offset,
		Length: uint64(len(blob)),
		Start:  start,
		End:    end,
	})
	w.offset += uint64(len(blob))
	return nil
}

// Close writes the chunk index, patches the header and syncs the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	idx := make([]byte, 0, 4+len(w.chunks)*16+2*(4+len(w.chunks)*8))
	idx = binary.BigEndian.AppendUint32(idx, uint32(len(w.chunks)))
	for _, c := range w.chunks {
		idx = binary.BigEndian.AppendUint64(idx, c.Offset)
		idx = binary.BigEndian.AppendUint64(idx, c.Length)
	}
	idx = binary.BigEndian.AppendUint32(idx, uint32(len(w.chunks)))
	for _, c := range w.chunks {
		idx = binary.BigEndian.AppendUint64(idx, math.Float64bits(c.Start))
	}
	idx = binary.BigEndian.AppendUint32(idx, uint32(len(w.chunks)))
	for _, c := range w.chunks {
		idx = binary.BigEndian.AppendUint64(idx, math.Float64bits(c.End))
	}

	if _, err := w.f.Write(idx); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("container: write index: %w", err)
	}

	var patch [8]byte
	binary.BigEndian.PutUint64(patch[:], w.offset)
	if _, err := w.f.WriteAt(patch[:], 8); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("container: patch index offset: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("container: sync: %w", err)
	}
	return w.f.Close()
}
