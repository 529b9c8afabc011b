// SPDX-License-Identifier: MIT

// Package procgroup starts external processes as process group leaders and
// tears the whole group down again, so a viewer's children never outlive
// their session.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// ErrKillFailed reports a process group that survived SIGKILL.
var ErrKillFailed = errors.New("procgroup: kill failed")

// Set configures cmd to start in its own process group. It must be called
// before cmd.Start for Terminate to reach the children.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate stops cmd's process group: SIGTERM, wait up to grace for the
// process to exit, then SIGKILL. waitCh must carry the result of cmd.Wait;
// that result is returned so the caller sees the real exit state. Safe to
// call with a nil command.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = signalGroup(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = signalGroup(cmd, syscall.SIGKILL)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		return ErrKillFailed
	}
}
