// SPDX-License-Identifier: MIT

// Command daemon runs the touchstream server: the HTTP API, the recordings
// library, the artifact cache, and viewer session management.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/opentouch/touchstream/internal/api"
	"github.com/opentouch/touchstream/internal/artifact"
	"github.com/opentouch/touchstream/internal/cache"
	"github.com/opentouch/touchstream/internal/config"
	"github.com/opentouch/touchstream/internal/daemon"
	"github.com/opentouch/touchstream/internal/health"
	"github.com/opentouch/touchstream/internal/library"
	tslog "github.com/opentouch/touchstream/internal/log"
	"github.com/opentouch/touchstream/internal/session"
	"github.com/opentouch/touchstream/internal/telemetry"
	tstls "github.com/opentouch/touchstream/internal/tls"
	"github.com/opentouch/touchstream/internal/version"
	"github.com/opentouch/touchstream/internal/viewer"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("touchstream %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	tslog.Configure(tslog.Config{Service: "touchstream"})
	logger := tslog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Determine config path:
	// - Explicit via --config
	// - Otherwise auto-load ${TOUCHSTREAM_DATA}/config.yaml if it exists
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		if dataDir := strings.TrimSpace(config.ParseString("TOUCHSTREAM_DATA", "")); dataDir != "" {
			autoPath := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(autoPath); err == nil {
				effectiveConfigPath = autoPath
			}
		}
	}

	// Load configuration with precedence: ENV > File > Defaults
	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	if err := tslog.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn().Err(err).Msg("keeping default log level")
	}

	switch {
	case explicitConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", explicitConfigPath).
			Msg("loaded configuration from file")
	case effectiveConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file(auto)").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	default:
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	// Pre-flight checks (fail fast)
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	// Sessions resolve the viewer command and standing args from the
	// environment; export the merged config so file-configured values
	// apply (ENV already won during the merge).
	exportViewerEnv(cfg)

	// Self-signed TLS on demand: TOUCHSTREAM_TLS_AUTO generates a pair
	// under the data dir when none is configured.
	if cfg.Server.TLSCert == "" && cfg.Server.TLSKey == "" && config.ParseBool("TOUCHSTREAM_TLS_AUTO", false) {
		certPath, keyPath, err := tstls.EnsureCertificates(tstls.Config{
			CertPath: filepath.Join(cfg.DataDir, "certs", "server.crt"),
			KeyPath:  filepath.Join(cfg.DataDir, "certs", "server.key"),
			Logger:   tslog.WithComponent("tls"),
		})
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "tls.ensure_failed").
				Msg("failed to prepare self-signed TLS certificates")
		}
		cfg.Server.TLSCert = certPath
		cfg.Server.TLSKey = keyPath
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.Listen).
		Msg("starting touchstream")

	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Artifact cache: %s", cfg.CacheDir())
	if len(cfg.Library.Roots) > 0 {
		logger.Info().Msgf("→ Recordings roots: %s (watch: %v)", strings.Join(cfg.Library.Roots, ", "), cfg.Library.Watch)
	} else {
		logger.Info().Msg("→ Recordings roots: none configured (library disabled)")
	}
	if _, err := viewer.ResolveCommand(); err != nil {
		logger.Warn().Msg("→ Viewer: not found (sessions will fail to spawn until one is installed)")
	}
	if cfg.Server.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured (mutating routes are open). Set TOUCHSTREAM_API_TOKEN to restrict them.")
	}
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		logger.Info().Msgf("→ TLS: enabled (cert: %s, key: %s)", cfg.Server.TLSCert, cfg.Server.TLSKey)
	}
	if cfg.Server.MetricsListen != "" {
		logger.Info().Msgf("→ Metrics: %s", cfg.Server.MetricsListen)
	}

	// Tracing
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    "touchstream",
		ServiceVersion: version.Version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Protocol:       cfg.Telemetry.OTLPProtocol,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	// Summary cache: Redis when configured, in-process memory otherwise.
	var summaries cache.Cache
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedis(cache.RedisConfig{Addr: cfg.Cache.RedisAddr}, tslog.WithComponent("cache"))
		if err != nil {
			logger.Warn().
				Err(err).
				Str("addr", cfg.Cache.RedisAddr).
				Msg("redis unavailable, falling back to memory summary cache")
		} else {
			summaries = redisCache
			logger.Info().Msgf("→ Summary cache: redis (%s)", cfg.Cache.RedisAddr)
		}
	}
	if summaries == nil {
		summaries = cache.NewMemory(time.Minute)
	}

	// Recordings library (only with configured roots).
	var (
		librarySvc *library.Service
		libStore   *library.Store
		watcher    *library.Watcher
	)
	if len(cfg.Library.Roots) > 0 {
		libStore, err = library.NewStore(cfg.LibraryDBPath())
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "library.open_failed").
				Str("path", cfg.LibraryDBPath()).
				Msg("failed to open recordings catalog")
		}
		librarySvc = library.NewService(ctx, rootsFromPaths(cfg.Library.Roots), libStore, summaries)
		if cfg.Library.Watch {
			watcher, err = library.NewWatcher(librarySvc, cfg.Library.WatchDebounce)
			if err != nil {
				logger.Warn().
					Err(err).
					Msg("library watcher unavailable, relying on first-access and manual scans")
			}
		}
	}

	// Conversion index is advisory: listing only, never hit decisions.
	index, err := artifact.OpenIndex(cfg.IndexDir())
	if err != nil {
		logger.Warn().
			Err(err).
			Str("path", cfg.IndexDir()).
			Msg("conversion index unavailable, artifact listing will be empty")
		index = nil
	}
	artifacts := artifact.New(cfg.CacheDir(), index)

	// Viewer sessions.
	layout := viewer.DefaultLayout()
	if cfg.Viewer.LayoutFile != "" {
		layout, err = viewer.LoadLayout(cfg.Viewer.LayoutFile)
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("path", cfg.Viewer.LayoutFile).
				Msg("failed to load viewer layout")
		}
	}
	sessions := session.NewManager(session.Config{
		CacheDir:   cfg.CacheDir(),
		SpawnRate:  rate.Limit(cfg.Viewer.SpawnRate),
		SpawnBurst: cfg.Viewer.SpawnBurst,
		Layout:     layout,
		NoLayout:   cfg.Viewer.DisableLayout,
	}, artifacts, nil, nil)

	// Health surface.
	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewWritableDirChecker("data_dir", cfg.DataDir))
	hm.RegisterChecker(health.Informational(health.NewViewerChecker(viewer.ResolveCommand)))
	if libStore != nil {
		hm.RegisterChecker(health.NewPingChecker("library_store", libStore.Ping))
	}
	if pinger, ok := summaries.(interface {
		Ping(ctx context.Context) error
	}); ok {
		hm.RegisterChecker(health.Informational(health.NewPingChecker("summary_cache", pinger.Ping)))
	}

	apiServer, err := api.New(api.Deps{
		Config:   cfg,
		Sessions: sessions,
		Library:  librarySvc,
		Cache:    artifacts,
		Health:   hm,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "api.init_failed").
			Msg("failed to build API server")
	}

	deps := daemon.Deps{
		Logger:         logger,
		Config:         cfg,
		APIHandler:     apiServer.Handler(),
		MetricsHandler: promhttp.Handler(),
	}

	mgr, err := daemon.NewManager(cfg.Server, deps)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	// Shutdown order (LIFO): sessions die first so viewers release their
	// artifacts, then the stores, telemetry last.
	mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	if index != nil {
		mgr.RegisterShutdownHook("artifact-index", func(context.Context) error { return index.Close() })
	}
	if libStore != nil {
		mgr.RegisterShutdownHook("library-store", func(context.Context) error { return libStore.Close() })
	}
	if closer, ok := summaries.(interface{ Close() error }); ok {
		mgr.RegisterShutdownHook("summary-cache", func(context.Context) error { return closer.Close() })
	}
	mgr.RegisterShutdownHook("sessions", sessions.Shutdown)

	reload := func(context.Context) error {
		fresh, err := config.NewLoader(effectiveConfigPath, version.Version).Load()
		if err != nil {
			return err
		}
		if err := tslog.SetLevel(fresh.LogLevel); err != nil {
			return err
		}
		logger.Info().
			Str("event", "config.reloaded").
			Str("log_level", fresh.LogLevel).
			Msg("configuration reloaded")
		return nil
	}

	app := daemon.NewApp(logger, mgr, watcher, reload)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}

// exportViewerEnv pushes merged viewer settings back into the environment
// read by viewer.ResolveCommand and inherited by spawned viewers.
func exportViewerEnv(cfg config.AppConfig) {
	if cfg.Viewer.Cmd != "" {
		_ = os.Setenv(viewer.EnvCommand, cfg.Viewer.Cmd)
	}
	if cfg.Viewer.Args != "" {
		_ = os.Setenv(viewer.EnvArgs, cfg.Viewer.Args)
	}
	if cfg.Viewer.AppID != "" {
		_ = os.Setenv("TOUCHSTREAM_APP_ID", cfg.Viewer.AppID)
	}
}

// rootsFromPaths derives stable root IDs from configured paths: the base
// name, deduplicated with a numeric suffix when two roots share one.
func rootsFromPaths(paths []string) []library.RootConfig {
	roots := make([]library.RootConfig, 0, len(paths))
	seen := make(map[string]int, len(paths))
	for _, p := range paths {
		id := filepath.Base(filepath.Clean(p))
		if id == "." || id == string(filepath.Separator) {
			id = "root"
		}
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}
		roots = append(roots, library.RootConfig{ID: id, Path: p})
	}
	return roots
}
