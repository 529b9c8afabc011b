// SPDX-License-Identifier: MIT

//go:build unix

package procgroup

import (
	"os/exec"
	"testing"
	"time"
)

func startWaiting(t *testing.T, cmd *exec.Cmd) chan error {
	t.Helper()
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return waitCh
}

func TestTerminateGraceful(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	waitCh := startWaiting(t, cmd)

	start := time.Now()
	err := Terminate(cmd, waitCh, 5*time.Second)
	if err == nil {
		t.Fatal("expected a signal exit error from SIGTERM")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("SIGTERM path took %v, process should die well inside grace", elapsed)
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	// Ignored signals survive exec, so the sleep inherits the TERM shield.
	cmd := exec.Command("sh", "-c", `trap '' TERM; exec sleep 30`)
	waitCh := startWaiting(t, cmd)

	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected a signal exit error from SIGKILL")
	}
}

func TestTerminateAfterExit(t *testing.T) {
	cmd := exec.Command("true")
	waitCh := startWaiting(t, cmd)

	// Let the process finish before terminating.
	select {
	case err := <-waitCh:
		waitCh <- err // Terminate reads it again
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}

	if err := Terminate(cmd, waitCh, time.Second); err != nil {
		t.Fatalf("Terminate on exited process: %v", err)
	}
}

func TestTerminateNilCommand(t *testing.T) {
	if err := Terminate(nil, nil, time.Second); err != nil {
		t.Fatalf("nil cmd: %v", err)
	}
}
