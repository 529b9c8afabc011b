// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/fsutil"
	"github.com/opentouch/touchstream/internal/log"
)

// recordingExt is the only file type the scanner indexes.
const recordingExt = ".touch"

// Scanner walks recording roots and fills the index.
type Scanner struct {
	store *Store
}

// NewScanner returns a scanner writing into store.
func NewScanner(store *Store) *Scanner {
	return &Scanner{store: store}
}

// ScanRoot walks one root and upserts every .touch file it finds. Each file's
// container header is read for metadata; payloads are never touched. The
// whole scan commits in one transaction, and files that vanished since the
// previous scan are pruned.
func (sc *Scanner) ScanRoot(ctx context.Context, cfg RootConfig) (*ScanResult, error) {
	logger := log.WithComponent("library")
	result := &ScanResult{
		RootID:      cfg.ID,
		Started:     time.Now(),
		FinalStatus: RootStatusOK,
	}
	fail := func(err error) (*ScanResult, error) {
		result.Finished = time.Now()
		result.FinalStatus = RootStatusFailed
		return result, err
	}

	rootResolved, err := filepath.EvalSymlinks(cfg.Path)
	if err != nil {
		return fail(fmt.Errorf("library: resolve root %s: %w", cfg.ID, err))
	}

	tx, err := sc.store.BeginTx(ctx)
	if err != nil {
		return fail(fmt.Errorf("library: begin scan tx: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	scanTime := time.Now()
	walkErr := filepath.WalkDir(rootResolved, func(path string, d fs.DirEntry, werr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if werr != nil {
			result.ErrorCount++
			logger.Warn().Err(werr).Str("root_id", cfg.ID).Msg("scan walk error")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if cfg.MaxDepth > 0 {
				rel, err := filepath.Rel(rootResolved, path)
				if err == nil && rel != "." &&
					strings.Count(rel, string(os.PathSeparator))+1 >= cfg.MaxDepth {
					return fs.SkipDir
				}
			}
			return nil
		}

		if !strings.EqualFold(filepath.Ext(d.Name()), recordingExt) {
			result.Skipped++
			return nil
		}

		// Symlinked entries must still land inside the root.
		confined, err := fsutil.Confine(rootResolved, path)
		if err != nil {
			result.Skipped++
			logger.Warn().Err(err).
				Str("root_id", cfg.ID).
				Str(log.FieldPath, d.Name()).
				Msg("recording escapes root, skipped")
			return nil
		}

		rel, err := filepath.Rel(rootResolved, path)
		if err != nil {
			result.ErrorCount++
			return nil
		}

		info, err := os.Stat(confined)
		if err != nil {
			result.ErrorCount++
			logger.Warn().Err(err).Str("root_id", cfg.ID).Str(log.FieldPath, rel).Msg("stat recording")
			return nil
		}

		rec := Recording{
			RootID:    cfg.ID,
			RelPath:   rel,
			Name:      norm.NFC.String(d.Name()),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
			ScanTime:  scanTime,
			Status:    RecordingOK,
		}
		if err := probeContainer(confined, &rec); err != nil {
			rec.Status = RecordingUnreadable
			result.Unreadable++
			logger.Warn().Err(err).
				Str("root_id", cfg.ID).
				Str(log.FieldPath, rel).
				Msg("recording container unreadable")
		}

		if err := sc.store.UpsertRecording(ctx, tx, rec); err != nil {
			result.ErrorCount++
			logger.Error().Err(err).Str("root_id", cfg.ID).Str(log.FieldPath, rel).Msg("index recording")
			return nil
		}
		result.Indexed++
		return nil
	})
	if walkErr != nil {
		return fail(walkErr)
	}

	pruned, err := sc.store.PruneStale(ctx, tx, cfg.ID, scanTime)
	if err != nil {
		return fail(fmt.Errorf("library: prune stale rows: %w", err))
	}
	result.Pruned = pruned

	if err := tx.Commit(); err != nil {
		return fail(fmt.Errorf("library: commit scan: %w", err))
	}
	committed = true

	if result.ErrorCount > 0 {
		result.FinalStatus = RootStatusDegraded
	}
	result.Finished = time.Now()
	return result, nil
}

// probeContainer fills rec with the container's header metadata.
func probeContainer(path string, rec *Recording) error {
	r, err := container.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	cfg := r.Config()
	rec.GroupName = cfg.GroupName
	for _, sensor := range cfg.Sensors {
		for _, stream := range sensor.Streams {
			rec.Streams = append(rec.Streams, StreamInfo{
				Sensor: sensor.Name,
				Stream: stream.Name,
				Kind:   stream.Kind,
			})
		}
	}

	chunks := r.Chunks()
	rec.ChunkCount = len(chunks)
	if len(chunks) > 0 {
		rec.DurationSeconds = chunks[len(chunks)-1].End - chunks[0].Start
	}
	return nil
}
