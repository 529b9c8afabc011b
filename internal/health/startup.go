// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/opentouch/touchstream/internal/config"
	"github.com/opentouch/touchstream/internal/log"
	"github.com/opentouch/touchstream/internal/viewer"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving. Broken essentials (data dir, TLS files) fail fast; optional
// pieces (library roots, viewer binary) only warn.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := checkDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Debug().Str(log.FieldPath, cfg.DataDir).Msg("data directory is writable")

	if cfg.Server.TLSCert != "" || cfg.Server.TLSKey != "" {
		if cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "" {
			return fmt.Errorf("TLS configuration requires both cert and key")
		}
		if err := checkFileReadable(cfg.Server.TLSCert); err != nil {
			return fmt.Errorf("TLS cert: %w", err)
		}
		if err := checkFileReadable(cfg.Server.TLSKey); err != nil {
			return fmt.Errorf("TLS key: %w", err)
		}
	}

	checkLibraryRoots(logger, cfg.Library.Roots)
	checkViewer(logger)

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("startup checks passed")
	return nil
}

// checkDataDir creates the data dir when missing and verifies writes land.
func checkDataDir(path string) error {
	if path == "" {
		return fmt.Errorf("data directory is not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	return os.Remove(probe)
}

// checkLibraryRoots warns about roots that do not resolve to directories.
// A root appearing later (mounted volume) is picked up by the next scan.
func checkLibraryRoots(logger zerolog.Logger, roots []string) {
	for _, root := range roots {
		info, err := os.Stat(root)
		switch {
		case err != nil:
			logger.Warn().
				Str(log.FieldEvent, "startup.library_root_missing").
				Str(log.FieldPath, root).
				Msg("library root does not exist; scans will index nothing until it appears")
		case !info.IsDir():
			logger.Warn().
				Str(log.FieldEvent, "startup.library_root_invalid").
				Str(log.FieldPath, root).
				Msg("library root is not a directory")
		}
	}
}

func checkViewer(logger zerolog.Logger) {
	if _, err := viewer.ResolveCommand(); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "startup.viewer_missing").
			Msg("viewer command not resolvable; session endpoints will fail until one is installed")
	}
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- operator-configured path, readability check is the point
	if err != nil {
		return err
	}
	return f.Close()
}
