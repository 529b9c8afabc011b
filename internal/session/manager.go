// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/opentouch/touchstream/internal/artifact"
	"github.com/opentouch/touchstream/internal/fsutil"
	"github.com/opentouch/touchstream/internal/jobs"
	"github.com/opentouch/touchstream/internal/log"
	"github.com/opentouch/touchstream/internal/metrics"
	"github.com/opentouch/touchstream/internal/pipeline"
	"github.com/opentouch/touchstream/internal/procgroup"
	"github.com/opentouch/touchstream/internal/viewer"
)

// ArtifactSource yields the artifact for a recording, converting on a cache
// miss. *artifact.Cache satisfies it.
type ArtifactSource interface {
	GetOrCreate(ctx context.Context, src string, opts pipeline.Options, convert artifact.ConvertFunc) (string, *jobs.Status, error)
}

// Config tunes the manager.
type Config struct {
	CacheDir   string        // where layout files are materialized
	Grace      time.Duration // SIGTERM to SIGKILL window, default 5s
	SpawnRate  rate.Limit    // viewer spawns per second, default 1
	SpawnBurst int           // default 3
	Layout     viewer.Layout // empty means the embedded default
	NoLayout   bool          // skip writing and passing the layout file
}

// Manager owns every live viewer session.
type Manager struct {
	cfg     Config
	spawner Spawner
	source  ArtifactSource
	convert artifact.ConvertFunc
	limiter *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*Record
}

// NewManager wires the manager. A nil spawner falls back to os/exec; a nil
// convert falls back to the jobs converter.
func NewManager(cfg Config, source ArtifactSource, spawner Spawner, convert artifact.ConvertFunc) *Manager {
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Second
	}
	if cfg.SpawnRate <= 0 {
		cfg.SpawnRate = 1
	}
	if cfg.SpawnBurst <= 0 {
		cfg.SpawnBurst = 3
	}
	if len(cfg.Layout.Views) == 0 {
		cfg.Layout = viewer.DefaultLayout()
	}
	if spawner == nil {
		spawner = NewSpawner()
	}
	if convert == nil {
		convert = artifact.Converter()
	}
	return &Manager{
		cfg:      cfg,
		spawner:  spawner,
		source:   source,
		convert:  convert,
		limiter:  rate.NewLimiter(cfg.SpawnRate, cfg.SpawnBurst),
		sessions: make(map[string]*Record),
	}
}

func newSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Create resolves the optional initial artifact, spawns a viewer and
// registers the session.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (Info, error) {
	if !m.limiter.Allow() {
		return Info{}, ErrRateLimited
	}

	path, err := m.resolveLoad(ctx, spec.LoadSpec, true)
	if err != nil {
		return Info{}, err
	}
	command, err := viewer.ResolveCommand()
	if err != nil {
		return Info{}, err
	}
	args, err := viewer.NormalizeArgs(append(viewer.DefaultArgs(), spec.ViewerArgs...))
	if err != nil {
		return Info{}, err
	}

	proc, err := m.spawn(ctx, command, args, path)
	if err != nil {
		return Info{}, err
	}

	now := time.Now()
	rec := &Record{
		ID:        newSessionID(),
		Proc:      proc,
		Command:   command,
		Args:      args,
		CreatedAt: now,
	}
	if path != "" {
		rec.LoadedPath = path
		rec.LastLoadAt = now
	}

	m.mu.Lock()
	m.sessions[rec.ID] = rec
	info := infoOf(rec)
	m.mu.Unlock()
	metrics.SessionsActive.Inc()

	log.WithComponentFromContext(ctx, "session").Info().
		Str(log.FieldEvent, "session.create").
		Str(log.FieldSessionID, rec.ID).
		Int(log.FieldPID, info.PID).
		Str(log.FieldViewerCmd, strings.Join(command, " ")).
		Str(log.FieldArtifact, path).
		Msg("viewer session created")
	return info, nil
}

// List returns every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, infoOf(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns one session's info.
func (m *Manager) Get(id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return infoOf(rec), nil
}

// State returns the session info plus playback state. Playback stays
// unknown until viewers expose a control channel.
func (m *Manager) State(id string) (State, error) {
	info, err := m.Get(id)
	if err != nil {
		return State{}, err
	}
	return State{Session: info, Playback: Playback{State: "unknown"}}, nil
}

// Load points a session at a new artifact. A live viewer is replaced only
// when replace is set; the previous process group is stopped first.
func (m *Manager) Load(ctx context.Context, id string, spec LoadSpec, replace bool) (Info, error) {
	m.mu.Lock()
	rec, ok := m.sessions[id]
	var old Process
	var command, prevArgs []string
	if ok {
		old = rec.Proc
		command = rec.Command
		prevArgs = rec.Args
	}
	m.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path, err := m.resolveLoad(ctx, spec, false)
	if err != nil {
		return Info{}, err
	}

	if old.Running() && !replace {
		return Info{}, fmt.Errorf("%w: set replace_viewer", ErrViewerRunning)
	}
	if !m.limiter.Allow() {
		return Info{}, ErrRateLimited
	}
	if err := old.Terminate(m.cfg.Grace); errors.Is(err, procgroup.ErrKillFailed) {
		log.WithComponentFromContext(ctx, "session").Warn().Err(err).
			Str(log.FieldSessionID, id).Msg("previous viewer survived SIGKILL")
	}

	args, err := viewer.NormalizeArgs(prevArgs)
	if err != nil {
		return Info{}, err
	}
	proc, err := m.spawn(ctx, command, args, path)
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		// Deleted while we were spawning.
		m.mu.Unlock()
		_ = proc.Terminate(m.cfg.Grace)
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.Proc = proc
	rec.Args = args
	rec.LoadedPath = path
	rec.LastLoadAt = time.Now()
	info := infoOf(rec)
	m.mu.Unlock()

	log.WithComponentFromContext(ctx, "session").Info().
		Str(log.FieldEvent, "session.load").
		Str(log.FieldSessionID, id).
		Int(log.FieldPID, info.PID).
		Str(log.FieldArtifact, path).
		Msg("viewer session reloaded")
	return info, nil
}

// Delete stops the session's viewer and forgets the session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	metrics.SessionsActive.Dec()
	if err := rec.Proc.Terminate(m.cfg.Grace); errors.Is(err, procgroup.ErrKillFailed) {
		log.WithComponentFromContext(ctx, "session").Warn().Err(err).
			Str(log.FieldSessionID, id).Msg("viewer survived SIGKILL")
	}
	log.WithComponentFromContext(ctx, "session").Info().
		Str(log.FieldEvent, "session.delete").
		Str(log.FieldSessionID, id).
		Msg("viewer session closed")
	return nil
}

// Shutdown stops every session. Wired as a daemon shutdown hook.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	records := make([]*Record, 0, len(m.sessions))
	for _, rec := range m.sessions {
		records = append(records, rec)
	}
	m.sessions = make(map[string]*Record)
	m.mu.Unlock()

	var firstErr error
	for _, rec := range records {
		metrics.SessionsActive.Dec()
		if err := rec.Proc.Terminate(m.cfg.Grace); errors.Is(err, procgroup.ErrKillFailed) && firstErr == nil {
			firstErr = fmt.Errorf("session %s: %w", rec.ID, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return firstErr
}

// spawn builds the final argv (command, args, layout, artifact) and
// launches it, recording the spawn metric.
func (m *Manager) spawn(ctx context.Context, command, args []string, artifactPath string) (Process, error) {
	argv := make([]string, 0, len(command)+len(args)+2)
	argv = append(argv, command...)
	argv = append(argv, args...)
	if layoutPath := m.layoutPath(ctx); layoutPath != "" {
		argv = append(argv, layoutPath)
	}
	if artifactPath != "" {
		argv = append(argv, artifactPath)
	}

	proc, err := m.spawner.Spawn(argv)
	metrics.IncSessionSpawn(err == nil)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// layoutPath materializes the layout file. Failures downgrade to a warning
// and the viewer starts without a layout.
func (m *Manager) layoutPath(ctx context.Context) string {
	if m.cfg.NoLayout {
		return ""
	}
	path, err := m.cfg.Layout.Ensure(m.cfg.CacheDir)
	if err != nil {
		log.WithComponentFromContext(ctx, "session").Warn().Err(err).Msg("viewer layout unavailable")
		return ""
	}
	return path
}

// resolveLoad maps a LoadSpec to an on-disk artifact path. allowEmpty
// permits the empty spec used by Create.
func (m *Manager) resolveLoad(ctx context.Context, spec LoadSpec, allowEmpty bool) (string, error) {
	switch {
	case spec.ArtifactPath != "":
		path, err := filepath.Abs(spec.ArtifactPath)
		if err != nil {
			return "", fmt.Errorf("session: resolve artifact path: %w", err)
		}
		if fsutil.IsRegularFile(path) != nil {
			return "", fmt.Errorf("%w: %s", ErrArtifactMissing, spec.ArtifactPath)
		}
		return path, nil

	case spec.RecordingPath != "":
		src, err := filepath.Abs(spec.RecordingPath)
		if err != nil {
			return "", fmt.Errorf("session: resolve recording path: %w", err)
		}
		if fsutil.IsRegularFile(src) != nil {
			return "", fmt.Errorf("%w: %s", ErrRecordingMissing, spec.RecordingPath)
		}
		if spec.UseCache && m.source != nil {
			path, _, err := m.source.GetOrCreate(ctx, src, pipeline.Options{}, m.convert)
			if err != nil {
				return "", fmt.Errorf("session: convert recording: %w", err)
			}
			return path, nil
		}
		dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".otl"
		if _, err := m.convert(ctx, src, dst, pipeline.Options{}); err != nil {
			return "", fmt.Errorf("session: convert recording: %w", err)
		}
		return dst, nil

	default:
		if allowEmpty {
			return "", nil
		}
		return "", ErrNoInput
	}
}

func infoOf(rec *Record) Info {
	info := Info{
		ID:         rec.ID,
		PID:        rec.Proc.PID(),
		Status:     StatusExited,
		CreatedAt:  rec.CreatedAt,
		LoadedPath: rec.LoadedPath,
	}
	if rec.Proc.Running() {
		info.Status = StatusRunning
	}
	if !rec.LastLoadAt.IsZero() {
		t := rec.LastLoadAt
		info.LastLoadAt = &t
	}
	return info
}
