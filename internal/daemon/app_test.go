// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/opentouch/touchstream/internal/log"
)

type fakeManager struct {
	startErr  error
	started   chan struct{}
	shutdowns atomic.Int32
}

func (f *fakeManager) Start(ctx context.Context) error {
	if f.started != nil {
		close(f.started)
	}
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeManager) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	return nil
}

func (f *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

func TestApp_MissingManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	if err := app.Run(context.Background()); !errors.Is(err, ErrMissingManager) {
		t.Errorf("Run() error = %v, want %v", err, ErrMissingManager)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr := &fakeManager{started: make(chan struct{})}
	app := NewApp(log.WithComponent("test"), mgr, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	select {
	case <-mgr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("manager was not started")
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestApp_ManagerErrorTriggersShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("boom")
	mgr := &fakeManager{startErr: boom}
	app := NewApp(log.WithComponent("test"), mgr, nil, nil)

	err := app.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if got := mgr.shutdowns.Load(); got != 1 {
		t.Errorf("Shutdown called %d times, want 1", got)
	}
}

func TestApp_SIGHUPTriggersReload(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("os/signal.loop"),
	)

	// Keep our own SIGHUP registration alive for the whole test so the
	// default terminate-on-HUP disposition never applies, regardless of
	// when the app goroutine registers its handler.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGHUP)
	defer signal.Stop(guard)

	reloaded := make(chan struct{}, 1)
	mgr := &fakeManager{started: make(chan struct{})}
	app := NewApp(log.WithComponent("test"), mgr, nil, func(context.Context) error {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	select {
	case <-mgr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("manager was not started")
	}

	// The reload goroutine registers Notify before entering its loop, but
	// give it a moment to be scheduled.
	time.Sleep(50 * time.Millisecond)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("reload was not triggered by SIGHUP")
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
