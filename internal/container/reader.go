// SPDX-License-Identifier: MIT

package container

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Reader provides random access to the chunks of one container file.
// ReadChunk is safe for concurrent use; Close releases the file handle.
type Reader struct {
	f      *os.File
	size   uint64
	cfg    Config
	raw    []byte // raw config JSON
	chunks []ChunkInfo
	limits Limits
}

// Open opens a container with default limits.
func Open(path string) (*Reader, error) {
	return OpenWithLimits(path, DefaultLimits())
}

// OpenWithLimits opens a container, parses the config and the chunk index
// and validates both. Payload bytes are not touched.
func OpenWithLimits(path string, limits Limits) (*Reader, error) {
	// #nosec G304 -- recording paths come from the operator or the confined library
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}

	r := &Reader{f: f, limits: limits}
	if err := r.parse(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parse() error {
	st, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("container: stat: %w", err)
	}
	r.size = uint64(st.Size())

	var head [headerLen]byte
	if _, err := io.ReadFull(r.f, head[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return corruptf("short header: %d bytes", r.size)
		}
		return fmt.Errorf("container: read header: %w", err)
	}

	magic := binary.BigEndian.Uint32(head[0:4])
	if magic != Magic {
		return corruptf("bad magic 0x%08x", magic)
	}
	version := binary.BigEndian.Uint16(head[4:6])
	if version != Version1 {
		return corruptf("unsupported version %d", version)
	}
	indexOffset := binary.BigEndian.Uint64(head[8:16])
	configLen := binary.BigEndian.Uint32(head[16:20])

	if configLen > r.limits.MaxConfigBytes {
		return corruptf("config blob of %d bytes exceeds limit", configLen)
	}
	dataStart := uint64(headerLen) + uint64(configLen)
	if dataStart > r.size {
		return corruptf("config blob extends past end of file")
	}
	if indexOffset < dataStart || indexOffset > r.size {
		return corruptf("index offset %d outside file", indexOffset)
	}

	r.raw = make([]byte, configLen)
	if _, err := io.ReadFull(r.f, r.raw); err != nil {
		return corruptf("config blob truncated")
	}
	if err := json.Unmarshal(r.raw, &r.cfg); err != nil {
		return corruptf("config is not valid JSON: %v", err)
	}
	if err := r.cfg.validate(); err != nil {
		return err
	}

	if err := r.parseIndex(indexOffset, dataStart); err != nil {
		return err
	}
	return nil
}

// parseIndex reads the three index arrays and cross-validates them.
func (r *Reader) parseIndex(indexOffset, dataStart uint64) error {
	idx := io.NewSectionReader(r.f, int64(indexOffset), int64(r.size-indexOffset))

	readCount := func(what string) (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(idx, b[:]); err != nil {
			return 0, corruptf("index truncated reading %s count", what)
		}
		return binary.BigEndian.Uint32(b[:]), nil
	}

	blobCount, err := readCount("blob")
	if err != nil {
		return err
	}
	if blobCount > r.limits.MaxChunks {
		return corruptf("%d chunks exceeds limit", blobCount)
	}

	type span struct{ off, length uint64 }
	spans := make([]span, blobCount)
	for i := range spans {
		var b [16]byte
		if _, err := io.ReadFull(idx, b[:]); err != nil {
			return corruptf("index truncated reading blob entry %d", i)
		}
		spans[i] = span{
			off:    binary.BigEndian.Uint64(b[0:8]),
			length: binary.BigEndian.Uint64(b[8:16]),
		}
	}

	readTimes := func(what string) ([]float64, error) {
		count, err := readCount(what)
		if err != nil {
			return nil, err
		}
		out := make([]float64, count)
		for i := range out {
			var b [8]byte
			if _, err := io.ReadFull(idx, b[:]); err != nil {
				return nil, corruptf("index truncated reading %s time %d", what, i)
			}
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(b[:]))
		}
		return out, nil
	}

	starts, err := readTimes("start")
	if err != nil {
		return err
	}
	ends, err := readTimes("end")
	if err != nil {
		return err
	}

	// Trailing bytes after the index mean the file was not written by us.
	var trailer [1]byte
	if _, err := idx.Read(trailer[:]); err != io.EOF {
		return corruptf("trailing bytes after index")
	}

	// The three arrays describe the same chunks; disagreement is fatal.
	if uint32(len(starts)) != blobCount || uint32(len(ends)) != blobCount {
		return corruptf("index arrays disagree: %d blobs, %d starts, %d ends",
			blobCount, len(starts), len(ends))
	}

	r.chunks = make([]ChunkInfo, blobCount)
	prevEnd := math.Inf(-1)
	for i := range r.chunks {
		s := spans[i]
		if s.length > r.limits.MaxChunkBytes {
			return corruptf("chunk %d of %d bytes exceeds limit", i, s.length)
		}
		if s.off < dataStart || s.off+s.length < s.off || s.off+s.length > indexOffset {
			return corruptf("chunk %d byte range [%d,%d) outside payload region", i, s.off, s.off+s.length)
		}
		start, end := starts[i], ends[i]
		if math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0) {
			return corruptf("chunk %d has non-finite time range", i)
		}
		if end < start {
			return corruptf("chunk %d ends at %v before it starts at %v", i, end, start)
		}
		if start < prevEnd {
			return corruptf("chunk %d starts at %v inside previous chunk ending at %v", i, start, prevEnd)
		}
		prevEnd = end
		r.chunks[i] = ChunkInfo{Index: i, Offset: s.off, Length: s.length, Start: start, End: end}
	}
	return nil
}

// Chunks lists every chunk's byte range and time coverage. The returned
// slice is owned by the Reader and must not be mutated.
func (r *Reader) Chunks() []ChunkInfo {
	return r.chunks
}

// Config returns the parsed recording configuration.
func (r *Reader) Config() Config {
	return r.cfg
}

// RawConfig returns the verbatim config JSON bytes.
func (r *Reader) RawConfig() []byte {
	return r.raw
}

// ReadChunk reads the raw bytes of chunk i. Exactly one chunk is held in
// memory per call; successive calls reuse nothing.
func (r *Reader) ReadChunk(ctx context.Context, i int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(r.chunks) {
		return nil, fmt.Errorf("container: chunk index %d out of range [0,%d)", i, len(r.chunks))
	}
	info := r.chunks[i]
	buf := make([]byte, info.Length)
	if _, err := r.f.ReadAt(buf, int64(info.Offset)); err != nil {
		return nil, corruptf("chunk %d short read: %v", i, err)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
