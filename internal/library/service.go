// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opentouch/touchstream/internal/cache"
	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/fsutil"
	"github.com/opentouch/touchstream/internal/log"
)

// summaryTTL bounds cached summary lifetime. Keys carry the file's mod time,
// so the TTL caps memory growth, not staleness.
const summaryTTL = 10 * time.Minute

// Service ties the store, the scanner and the summary cache together.
type Service struct {
	configs map[string]RootConfig
	order   []string
	store   *Store
	scanner *Scanner
	cache   cache.Cache

	activeScans sync.Map // root id -> *sync.Mutex
}

// NewService registers the configured roots and returns the service. A nil
// summaries cache disables summary caching.
func NewService(ctx context.Context, configs []RootConfig, store *Store, summaries cache.Cache) *Service {
	if summaries == nil {
		summaries = cache.NewNoop()
	}
	svc := &Service{
		configs: make(map[string]RootConfig, len(configs)),
		store:   store,
		scanner: NewScanner(store),
		cache:   summaries,
	}
	logger := log.WithComponentFromContext(ctx, "library")
	for _, cfg := range configs {
		svc.configs[cfg.ID] = cfg
		svc.order = append(svc.order, cfg.ID)
		if err := store.UpsertRoot(ctx, cfg.ID); err != nil {
			logger.Error().Err(err).Str("root_id", cfg.ID).Msg("register library root")
		}
	}
	return svc
}

// RootConfigs returns the configured roots in configuration order.
func (s *Service) RootConfigs() []RootConfig {
	out := make([]RootConfig, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.configs[id])
	}
	return out
}

// Roots lists every root with its scan status. Never blocks on scans.
func (s *Service) Roots(ctx context.Context) ([]Root, error) {
	return s.store.Roots(ctx)
}

// Recordings lists a root's indexed recordings. A root that was never
// scanned is scanned first; a root mid-scan returns ErrScanRunning.
func (s *Service) Recordings(ctx context.Context, rootID string, limit, offset int) ([]Recording, int, error) {
	root, err := s.store.Root(ctx, rootID)
	if err != nil {
		return nil, 0, fmt.Errorf("library: load root: %w", err)
	}
	if root == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrRootNotFound, rootID)
	}

	switch root.LastScanStatus {
	case RootStatusRunning:
		return nil, 0, ErrScanRunning
	case RootStatusNever:
		if _, err := s.TriggerScan(ctx, rootID); err != nil {
			return nil, 0, err
		}
	}
	return s.store.Recordings(ctx, rootID, limit, offset)
}

// Recording returns one indexed recording with its streams.
func (s *Service) Recording(ctx context.Context, rootID, relPath string) (*Recording, error) {
	rec, err := s.store.Recording(ctx, rootID, relPath)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordingNotFound, rootID, relPath)
	}
	return rec, nil
}

// ResolvePath maps (root, relPath) to a confined absolute path on disk.
func (s *Service) ResolvePath(rootID, relPath string) (string, error) {
	cfg, ok := s.configs[rootID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRootNotFound, rootID)
	}
	return fsutil.Confine(cfg.Path, relPath)
}

// Summary builds the per-recording detail from the container header. Results
// are cached keyed by path and mod time, so repeat queries for an unchanged
// file skip the container parse.
func (s *Service) Summary(ctx context.Context, rootID, relPath string) (*Summary, error) {
	path, err := s.ResolvePath(rootID, relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordingNotFound, rootID, relPath)
		}
		return nil, err
	}

	key := cache.SummaryKey(path, info.ModTime())
	if raw, ok := s.cache.Get(ctx, key); ok {
		var sum Summary
		if err := json.Unmarshal(raw, &sum); err == nil {
			return &sum, nil
		}
	}

	sum, err := buildSummary(rootID, relPath, path, info)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(sum); err == nil {
		s.cache.Set(ctx, key, raw, summaryTTL)
	}
	return sum, nil
}

func buildSummary(rootID, relPath, path string, info os.FileInfo) (*Summary, error) {
	r, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	cfg := r.Config()
	sum := &Summary{
		RootID:    rootID,
		RelPath:   relPath,
		GroupName: cfg.GroupName,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime().UTC(),
		Status:    RecordingOK,
	}
	for _, sensor := range cfg.Sensors {
		for _, stream := range sensor.Streams {
			sum.Streams = append(sum.Streams, StreamInfo{
				Sensor: sensor.Name,
				Stream: stream.Name,
				Kind:   stream.Kind,
			})
		}
	}

	chunks := r.Chunks()
	sum.ChunkCount = len(chunks)
	for _, c := range chunks {
		sum.Chunks = append(sum.Chunks, ChunkSummary{
			Index: c.Index,
			Start: c.Start,
			End:   c.End,
			Bytes: c.Length,
		})
	}
	if len(chunks) > 0 {
		sum.StartSeconds = chunks[0].Start
		sum.DurationSeconds = chunks[len(chunks)-1].End - chunks[0].Start
	}
	return sum, nil
}

// TriggerScan runs one scan of the root, rejecting concurrent scans of the
// same root with ErrScanRunning.
func (s *Service) TriggerScan(ctx context.Context, rootID string) (*ScanResult, error) {
	cfg, ok := s.configs[rootID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, rootID)
	}

	muAny, _ := s.activeScans.LoadOrStore(rootID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, ErrScanRunning
	}
	defer mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "library")
	if err := s.store.SetRootStatus(ctx, rootID, RootStatusRunning, time.Now(), 0); err != nil {
		return nil, fmt.Errorf("library: mark scan running: %w", err)
	}

	result, scanErr := s.scanner.ScanRoot(ctx, cfg)
	if scanErr != nil {
		logger.Error().Err(scanErr).Str("root_id", rootID).Msg("library scan failed")
	}
	if err := s.store.SetRootStatus(ctx, rootID, result.FinalStatus, result.Finished, result.Indexed); err != nil {
		return result, fmt.Errorf("library: record scan status: %w", err)
	}

	logger.Info().
		Str(log.FieldEvent, "library.scan").
		Str("root_id", rootID).
		Str("status", result.FinalStatus.String()).
		Int("indexed", result.Indexed).
		Int("pruned", result.Pruned).
		Int("unreadable", result.Unreadable).
		Dur("duration", result.Finished.Sub(result.Started)).
		Msg("library scan finished")
	return result, scanErr
}

// Store exposes the underlying index for readiness checks.
func (s *Service) Store() *Store { return s.store }
