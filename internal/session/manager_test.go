// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/opentouch/touchstream/internal/artifact"
	"github.com/opentouch/touchstream/internal/jobs"
	"github.com/opentouch/touchstream/internal/pipeline"
	"github.com/opentouch/touchstream/internal/viewer"
)

type fakeProcess struct {
	pid       int
	running   atomic.Bool
	termErr   error
	termCalls atomic.Int32
}

func (p *fakeProcess) PID() int      { return p.pid }
func (p *fakeProcess) Running() bool { return p.running.Load() }

func (p *fakeProcess) Terminate(time.Duration) error {
	p.termCalls.Add(1)
	p.running.Store(false)
	return p.termErr
}

type fakeSpawner struct {
	mu      sync.Mutex
	err     error
	entered chan struct{}
	release chan struct{}
	nextPID int
	argvs   [][]string
	procs   []*fakeProcess
}

func (s *fakeSpawner) Spawn(argv []string) (Process, error) {
	s.mu.Lock()
	entered, release := s.entered, s.release
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextPID++
	p := &fakeProcess{pid: 4000 + s.nextPID}
	p.running.Store(true)
	s.argvs = append(s.argvs, append([]string(nil), argv...))
	s.procs = append(s.procs, p)
	return p, nil
}

// gate makes the next Spawn calls signal entered and wait for release.
func (s *fakeSpawner) gate() (entered chan struct{}, release chan struct{}) {
	entered = make(chan struct{}, 1)
	release = make(chan struct{})
	s.mu.Lock()
	s.entered, s.release = entered, release
	s.mu.Unlock()
	return entered, release
}

func (s *fakeSpawner) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func (s *fakeSpawner) argv(i int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.argvs[i]
}

type fakeSource struct {
	calls atomic.Int32
	path  string
	err   error
}

func (s *fakeSource) GetOrCreate(ctx context.Context, src string, opts pipeline.Options, convert artifact.ConvertFunc) (string, *jobs.Status, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", nil, s.err
	}
	return s.path, &jobs.Status{Input: src, Artifact: s.path}, nil
}

func countingConvert(calls *atomic.Int32) artifact.ConvertFunc {
	return func(ctx context.Context, src, dst string, opts pipeline.Options) (*jobs.Status, error) {
		calls.Add(1)
		if err := os.WriteFile(dst, []byte("otl"), 0o600); err != nil {
			return nil, err
		}
		return &jobs.Status{Input: src, Artifact: dst, Samples: 3}, nil
	}
}

func newTestManager(t *testing.T, cfg Config, source ArtifactSource, convert artifact.ConvertFunc) (*Manager, *fakeSpawner) {
	t.Helper()
	t.Setenv(viewer.EnvCommand, "/bin/echo")
	t.Setenv(viewer.EnvArgs, "")
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	if cfg.SpawnRate == 0 {
		cfg.SpawnRate = rate.Inf
	}
	sp := &fakeSpawner{}
	return NewManager(cfg, source, sp, convert), sp
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))
	return path
}

func TestCreateEmptySession(t *testing.T) {
	m, sp := newTestManager(t, Config{}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)
	require.Regexp(t, "^[0-9a-f]{32}$", info.ID)
	require.Equal(t, StatusRunning, info.Status)
	require.NotZero(t, info.PID)
	require.Empty(t, info.LoadedPath)
	require.Nil(t, info.LastLoadAt)

	argv := sp.argv(0)
	require.Equal(t, "/bin/echo", argv[0])
	require.True(t, viewer.HasArg(argv, "--port"))
	require.Contains(t, argv[len(argv)-1], "viewer-layout-")
}

func TestCreateWithArtifact(t *testing.T) {
	art := writeFile(t, t.TempDir(), "scene.otl")
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{LoadSpec: LoadSpec{ArtifactPath: art}})
	require.NoError(t, err)
	require.Equal(t, art, info.LoadedPath)
	require.NotNil(t, info.LastLoadAt)

	argv := sp.argv(0)
	require.Equal(t, art, argv[len(argv)-1])
}

func TestCreateArtifactMissing(t *testing.T) {
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	_, err := m.Create(context.Background(), CreateSpec{
		LoadSpec: LoadSpec{ArtifactPath: filepath.Join(t.TempDir(), "ghost.otl")},
	})
	require.ErrorIs(t, err, ErrArtifactMissing)
	require.Zero(t, sp.count())
}

func TestCreateRecordingViaCache(t *testing.T) {
	dir := t.TempDir()
	rec := writeFile(t, dir, "bench.touch")
	src := &fakeSource{path: filepath.Join(dir, "cached.otl")}
	m, sp := newTestManager(t, Config{NoLayout: true}, src, nil)

	info, err := m.Create(context.Background(), CreateSpec{
		LoadSpec: LoadSpec{RecordingPath: rec, UseCache: true},
	})
	require.NoError(t, err)
	require.Equal(t, src.path, info.LoadedPath)
	require.Equal(t, int32(1), src.calls.Load())
	argv := sp.argv(0)
	require.Equal(t, src.path, argv[len(argv)-1])
}

func TestCreateRecordingDirectConvert(t *testing.T) {
	dir := t.TempDir()
	rec := writeFile(t, dir, "bench.touch")
	src := &fakeSource{path: "unused"}
	var calls atomic.Int32
	m, _ := newTestManager(t, Config{NoLayout: true}, src, countingConvert(&calls))

	info, err := m.Create(context.Background(), CreateSpec{
		LoadSpec: LoadSpec{RecordingPath: rec},
	})
	require.NoError(t, err)

	want := filepath.Join(dir, "bench.otl")
	require.Equal(t, want, info.LoadedPath)
	require.Equal(t, int32(1), calls.Load())
	require.Zero(t, src.calls.Load())
	_, statErr := os.Stat(want)
	require.NoError(t, statErr)
}

func TestCreateRecordingMissing(t *testing.T) {
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	_, err := m.Create(context.Background(), CreateSpec{
		LoadSpec: LoadSpec{RecordingPath: filepath.Join(t.TempDir(), "ghost.touch")},
	})
	require.ErrorIs(t, err, ErrRecordingMissing)
	require.Zero(t, sp.count())
}

func TestCreateAppendsStandingArgs(t *testing.T) {
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)
	t.Setenv(viewer.EnvArgs, "--web --memory-limit=2GB")

	_, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	argv := sp.argv(0)
	require.Contains(t, argv, "--web")
	require.Contains(t, argv, "--memory-limit=2GB")
}

func TestCreateHonorsExplicitRouting(t *testing.T) {
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	_, err := m.Create(context.Background(), CreateSpec{
		ViewerArgs: []string{"--connect=grpc://127.0.0.1:9876"},
	})
	require.NoError(t, err)

	argv := sp.argv(0)
	require.False(t, viewer.HasArg(argv, "--port"))
	require.Contains(t, argv, "--connect=grpc://127.0.0.1:9876")
}

func TestCreateRateLimited(t *testing.T) {
	m, _ := newTestManager(t, Config{NoLayout: true, SpawnRate: 1, SpawnBurst: 1}, nil, nil)

	_, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), CreateSpec{})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestCreateSpawnFailure(t *testing.T) {
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)
	sp.fail(errors.New("boom"))

	_, err := m.Create(context.Background(), CreateSpec{})
	require.ErrorContains(t, err, "boom")
	require.Empty(t, m.List())
}

func TestLoadReplacesRunningViewer(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.otl")
	second := writeFile(t, dir, "b.otl")
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{LoadSpec: LoadSpec{ArtifactPath: first}})
	require.NoError(t, err)

	loaded, err := m.Load(context.Background(), info.ID, LoadSpec{ArtifactPath: second}, true)
	require.NoError(t, err)
	require.Equal(t, second, loaded.LoadedPath)
	require.Equal(t, 2, sp.count())
	require.Equal(t, int32(1), sp.proc(0).termCalls.Load())
	require.False(t, sp.proc(0).Running())
	require.Equal(t, sp.proc(1).PID(), loaded.PID)
}

func TestLoadConflictWithoutReplace(t *testing.T) {
	dir := t.TempDir()
	art := writeFile(t, dir, "a.otl")
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{LoadSpec: LoadSpec{ArtifactPath: art}})
	require.NoError(t, err)

	_, err = m.Load(context.Background(), info.ID, LoadSpec{ArtifactPath: art}, false)
	require.ErrorIs(t, err, ErrViewerRunning)
	require.Equal(t, 1, sp.count())
	require.Zero(t, sp.proc(0).termCalls.Load())
	require.True(t, sp.proc(0).Running())
}

func TestLoadOntoExitedViewer(t *testing.T) {
	art := writeFile(t, t.TempDir(), "a.otl")
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)
	sp.proc(0).running.Store(false)

	loaded, err := m.Load(context.Background(), info.ID, LoadSpec{ArtifactPath: art}, false)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, loaded.Status)
	require.Equal(t, 2, sp.count())
}

func TestLoadNoInput(t *testing.T) {
	m, _ := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	_, err = m.Load(context.Background(), info.ID, LoadSpec{}, true)
	require.ErrorIs(t, err, ErrNoInput)
}

func TestLoadUnknownSession(t *testing.T) {
	art := writeFile(t, t.TempDir(), "a.otl")
	m, _ := newTestManager(t, Config{NoLayout: true}, nil, nil)

	_, err := m.Load(context.Background(), "deadbeef", LoadSpec{ArtifactPath: art}, true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSessionDeletedDuringSpawn(t *testing.T) {
	art := writeFile(t, t.TempDir(), "a.otl")
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	entered, release := sp.gate()
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Load(context.Background(), info.ID, LoadSpec{ArtifactPath: art}, true)
		errCh <- err
	}()
	<-entered
	require.NoError(t, m.Delete(context.Background(), info.ID))
	close(release)

	require.ErrorIs(t, <-errCh, ErrNotFound)
	// The replacement viewer must not outlive the deleted session.
	require.Equal(t, 2, sp.count())
	require.Equal(t, int32(1), sp.proc(1).termCalls.Load())
}

func TestDeleteSession(t *testing.T) {
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), info.ID))
	require.Equal(t, int32(1), sp.proc(0).termCalls.Load())

	_, err = m.Get(info.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.Delete(context.Background(), info.ID), ErrNotFound)
}

func TestShutdownStopsEverySession(t *testing.T) {
	m, sp := newTestManager(t, Config{NoLayout: true}, nil, nil)
	for range 3 {
		_, err := m.Create(context.Background(), CreateSpec{})
		require.NoError(t, err)
	}

	require.NoError(t, m.Shutdown(context.Background()))
	require.Empty(t, m.List())
	for i := range 3 {
		require.False(t, sp.proc(i).Running())
	}
}

func TestStateReportsUnknownPlayback(t *testing.T) {
	m, _ := newTestManager(t, Config{NoLayout: true}, nil, nil)

	info, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	st, err := m.State(info.ID)
	require.NoError(t, err)
	require.Equal(t, info.ID, st.Session.ID)
	require.Equal(t, "unknown", st.Playback.State)
	require.Nil(t, st.Playback.Time)

	_, err = m.State("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByCreation(t *testing.T) {
	m, _ := newTestManager(t, Config{NoLayout: true}, nil, nil)

	a, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)
	b, err := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	list := m.List()
	require.Len(t, list, 2)
	require.Equal(t, a.ID, list[0].ID)
	require.Equal(t, b.ID, list[1].ID)
}
