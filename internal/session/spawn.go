// SPDX-License-Identifier: MIT

package session

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentouch/touchstream/internal/procgroup"
)

// Process is one running viewer under manager control.
type Process interface {
	PID() int
	Running() bool
	// Terminate stops the process group (SIGTERM, grace, SIGKILL). It is
	// idempotent and returns the process's exit result.
	Terminate(grace time.Duration) error
}

// Spawner launches viewer processes. The default implementation shells out
// through os/exec; tests inject fakes.
type Spawner interface {
	Spawn(argv []string) (Process, error)
}

// startupCheck is how long a fresh viewer gets to prove it did not die on
// arrival (bad flags, missing display) before the spawn counts as ok.
const startupCheck = 200 * time.Millisecond

type execSpawner struct{}

// NewSpawner returns the os/exec-backed spawner used in production. Spawned
// viewers run detached in their own process group with stdio discarded.
func NewSpawner() Spawner { return execSpawner{} }

func (execSpawner) Spawn(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("session: empty viewer command")
	}
	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 -- argv comes from operator config
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("session: start viewer %q: %w", argv[0], err)
	}

	p := newExecProcess(cmd)
	select {
	case err := <-p.waitCh:
		if err != nil {
			return nil, fmt.Errorf("session: viewer exited during startup: %w", err)
		}
		return nil, errors.New("session: viewer exited during startup")
	case <-time.After(startupCheck):
	}
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	waitCh chan error
	exited atomic.Bool

	termOnce sync.Once
	termErr  error
}

func newExecProcess(cmd *exec.Cmd) *execProcess {
	p := &execProcess{cmd: cmd, waitCh: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		p.exited.Store(true)
		p.waitCh <- err
	}()
	return p
}

func (p *execProcess) PID() int      { return p.cmd.Process.Pid }
func (p *execProcess) Running() bool { return !p.exited.Load() }

func (p *execProcess) Terminate(grace time.Duration) error {
	p.termOnce.Do(func() {
		p.termErr = procgroup.Terminate(p.cmd, p.waitCh, grace)
	})
	return p.termErr
}
