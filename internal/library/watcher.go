// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opentouch/touchstream/internal/log"
)

// Watcher rescans roots when their directories change. Events are debounced
// per root so a burst of file writes triggers one scan.
type Watcher struct {
	svc      *Service
	debounce time.Duration
	fsw      *fsnotify.Watcher
	dirs     map[string]string // watched dir -> root id

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher watches every configured root directory. A debounce of zero or
// below falls back to two seconds.
func NewWatcher(svc *Service, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("library: create watcher: %w", err)
	}
	w := &Watcher{
		svc:      svc,
		debounce: debounce,
		fsw:      fsw,
		dirs:     make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
	for _, cfg := range svc.RootConfigs() {
		if err := fsw.Add(cfg.Path); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("library: watch root %s: %w", cfg.ID, err)
		}
		w.dirs[cfg.Path] = cfg.ID
	}
	return w, nil
}

// Run processes filesystem events until ctx is done, then releases the
// watcher and any pending rescan timers.
func (w *Watcher) Run(ctx context.Context) {
	logger := log.WithComponent("library")
	defer func() {
		_ = w.fsw.Close()
		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			rootID, ok := w.rootFor(event.Name)
			if !ok {
				continue
			}
			logger.Debug().
				Str("root_id", rootID).
				Str("op", event.Op.String()).
				Msg("root changed, rescan scheduled")
			w.schedule(ctx, rootID)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("library watcher error")
		}
	}
}

// rootFor maps a changed path to its owning root.
func (w *Watcher) rootFor(name string) (string, bool) {
	for dir, id := range w.dirs {
		if name == dir || strings.HasPrefix(name, dir+string(os.PathSeparator)) {
			return id, true
		}
	}
	return "", false
}

// schedule arms (or re-arms) the root's debounce timer.
func (w *Watcher) schedule(ctx context.Context, rootID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[rootID]; ok {
		t.Stop()
	}
	w.timers[rootID] = time.AfterFunc(w.debounce, func() {
		logger := log.WithComponent("library")
		if _, err := w.svc.TriggerScan(ctx, rootID); err != nil {
			if errors.Is(err, ErrScanRunning) {
				logger.Debug().Str("root_id", rootID).Msg("rescan skipped, scan in flight")
				return
			}
			logger.Error().Err(err).Str("root_id", rootID).Msg("watcher rescan failed")
		}
	})
}
