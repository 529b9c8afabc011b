// SPDX-License-Identifier: MIT

// Package log owns the process-wide zerolog setup. Packages log through
// children of a single base logger so service identity and level handling
// stay uniform across the daemon and the CLIs.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentouch/touchstream/internal/version"
)

// envLevel seeds the level when Configure gets none, so the CLIs honor it
// before any config file is read.
const envLevel = "TOUCHSTREAM_LOG_LEVEL"

// Config carries the knobs for the one-time logger setup.
type Config struct {
	Level   string    // level name; empty falls back to TOUCHSTREAM_LOG_LEVEL, then info
	Output  io.Writer // destination, defaults to os.Stdout
	Service string    // service tag stamped on every entry
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure sets up the global logger on first call. Later calls are no-ops;
// runtime level changes go through SetLevel.
func Configure(cfg Config) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
		zerolog.SetGlobalLevel(initialLevel(cfg.Level))

		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		svc := cfg.Service
		if svc == "" {
			svc = "touchstream"
		}

		base = zerolog.New(out).With().
			Timestamp().
			Str("service", svc).
			Str("version", version.Version).
			Logger()
	})
}

func initialLevel(name string) zerolog.Level {
	if name == "" {
		name = os.Getenv(envLevel)
	}
	lvl, err := zerolog.ParseLevel(name)
	if name == "" || err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLevel changes the global log level at runtime, for example after a
// config reload. Unknown level names return an error and leave the current
// level untouched.
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// Base returns the shared root logger.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent derives a logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}

// Derive builds a child logger with caller-chosen fields.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}

func init() {
	Configure(Config{})
}
