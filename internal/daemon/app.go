// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opentouch/touchstream/internal/library"
)

// ReloadFunc re-reads the configuration and applies whatever can change at
// runtime (currently the log level). Invoked on SIGHUP.
type ReloadFunc func(ctx context.Context) error

// App ties the long-lived loops together: the recordings watcher, the
// reload trigger and the server lifecycle owned by Manager. The first fatal
// error from any of them tears the whole group down.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	watcher      *library.Watcher
	reload       ReloadFunc
	reloadSignal os.Signal
}

// NewApp assembles the runtime loops. Watcher and reload are optional; nil
// disables the respective loop.
func NewApp(logger zerolog.Logger, manager Manager, watcher *library.Watcher, reload ReloadFunc) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		watcher:      watcher,
		reload:       reload,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned loops and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.watcher != nil {
		// The watcher rescans recording roots on filesystem changes. It is
		// best-effort: it exits via ctx and never takes the daemon down.
		g.Go(func() error {
			a.watcher.Run(ctx)
			return nil
		})
	}

	if a.reload != nil && a.reloadSignal != nil {
		g.Go(func() error {
			a.watchReload(ctx)
			return nil
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// watchReload invokes the reload function each time the reload signal
// arrives, until ctx is cancelled. Reload failures keep the old config.
func (a *App) watchReload(ctx context.Context) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, a.reloadSignal)
	defer signal.Stop(sigc)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigc:
			a.logger.Info().
				Str("event", "config.reload_signal").
				Str("signal", a.reloadSignal.String()).
				Msg("reload signal received")

			if err := a.reload(ctx); err != nil {
				a.logger.Warn().
					Err(err).
					Str("event", "config.reload_failed").
					Msg("configuration reload failed, keeping previous state")
			}
		}
	}
}
