// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves the configuration: defaults first, then the config file,
// then environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	mergeEnvConfig(&cfg)

	// DataDir must be absolute before path confinement checks downstream.
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		DataDir:  "./data",
		LogLevel: "info",
		Server: ServerConfig{
			Listen:         ":8750",
			MetricsListen:  "",
			RateLimitRPS:   60,
			RateLimitBurst: 120,
			MaxConns:       256,
			ShutdownGrace:  10 * time.Second,
		},
		Library: LibraryConfig{
			Watch:         true,
			WatchDebounce: 2 * time.Second,
		},
		Cache: CacheConfig{
			SummaryTTL: 5 * time.Minute,
		},
		Viewer: ViewerConfig{
			AppID:      "touchstream",
			SpawnRate:  1,
			SpawnBurst: 3,
		},
		Decode: DecodeConfig{
			OnError:        OnErrorSkipEvent,
			HeaderMismatch: HeaderMismatchWarn,
			CameraStride:   1,
		},
		Telemetry: TelemetryConfig{
			OTLPProtocol: "grpc",
			SampleRate:   1,
		},
	}
}

// loadFile loads configuration from a YAML file with strict parsing.
// Unknown fields cause an error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) {
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *time.Duration) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}

	setStr(&cfg.DataDir, f.DataDir)
	setStr(&cfg.LogLevel, f.LogLevel)

	if s := f.Server; s != nil {
		setStr(&cfg.Server.Listen, s.Listen)
		setStr(&cfg.Server.MetricsListen, s.MetricsListen)
		setStr(&cfg.Server.APIToken, s.APIToken)
		if len(s.CORSOrigins) > 0 {
			cfg.Server.CORSOrigins = s.CORSOrigins
		}
		setInt(&cfg.Server.RateLimitRPS, s.RateLimitRPS)
		setInt(&cfg.Server.RateLimitBurst, s.RateLimitBurst)
		setInt(&cfg.Server.MaxConns, s.MaxConns)
		setDur(&cfg.Server.ShutdownGrace, s.ShutdownGrace)
		setStr(&cfg.Server.TLSCert, s.TLSCert)
		setStr(&cfg.Server.TLSKey, s.TLSKey)
	}

	if lib := f.Library; lib != nil {
		if len(lib.Roots) > 0 {
			cfg.Library.Roots = lib.Roots
		}
		setStr(&cfg.Library.DBPath, lib.DBPath)
		setBool(&cfg.Library.Watch, lib.Watch)
		setDur(&cfg.Library.WatchDebounce, lib.WatchDebounce)
	}

	if c := f.Cache; c != nil {
		setStr(&cfg.Cache.Dir, c.Dir)
		setStr(&cfg.Cache.IndexDir, c.IndexDir)
		setStr(&cfg.Cache.RedisAddr, c.RedisAddr)
		setDur(&cfg.Cache.SummaryTTL, c.SummaryTTL)
	}

	if v := f.Viewer; v != nil {
		setStr(&cfg.Viewer.Cmd, v.Cmd)
		setStr(&cfg.Viewer.Args, v.Args)
		setStr(&cfg.Viewer.AppID, v.AppID)
		setStr(&cfg.Viewer.LayoutFile, v.LayoutFile)
		setBool(&cfg.Viewer.DisableLayout, v.DisableLayout)
		setFloat(&cfg.Viewer.SpawnRate, v.SpawnRate)
		setInt(&cfg.Viewer.SpawnBurst, v.SpawnBurst)
	}

	if d := f.Decode; d != nil {
		setStr(&cfg.Decode.OnError, d.OnError)
		setStr(&cfg.Decode.HeaderMismatch, d.HeaderMismatch)
		setInt(&cfg.Decode.CameraStride, d.CameraStride)
		setBool(&cfg.Decode.Prefetch, d.Prefetch)
	}

	if t := f.Telemetry; t != nil {
		setStr(&cfg.Telemetry.OTLPEndpoint, t.OTLPEndpoint)
		setStr(&cfg.Telemetry.OTLPProtocol, t.OTLPProtocol)
		setFloat(&cfg.Telemetry.SampleRate, t.SampleRate)
	}
}

func mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = ParseString("TOUCHSTREAM_DATA", cfg.DataDir)
	cfg.LogLevel = ParseString("TOUCHSTREAM_LOG_LEVEL", cfg.LogLevel)

	cfg.Server.Listen = ParseString("TOUCHSTREAM_LISTEN", cfg.Server.Listen)
	cfg.Server.MetricsListen = ParseString("TOUCHSTREAM_METRICS_LISTEN", cfg.Server.MetricsListen)
	cfg.Server.APIToken = ParseString("TOUCHSTREAM_API_TOKEN", cfg.Server.APIToken)
	cfg.Server.CORSOrigins = ParseStringSlice("TOUCHSTREAM_CORS_ORIGINS", cfg.Server.CORSOrigins)
	cfg.Server.RateLimitRPS = ParseInt("TOUCHSTREAM_RATE_LIMIT_RPS", cfg.Server.RateLimitRPS)
	cfg.Server.RateLimitBurst = ParseInt("TOUCHSTREAM_RATE_LIMIT_BURST", cfg.Server.RateLimitBurst)
	cfg.Server.MaxConns = ParseInt("TOUCHSTREAM_MAX_CONNS", cfg.Server.MaxConns)
	cfg.Server.ShutdownGrace = ParseDuration("TOUCHSTREAM_SHUTDOWN_GRACE", cfg.Server.ShutdownGrace)
	cfg.Server.TLSCert = ParseString("TOUCHSTREAM_TLS_CERT", cfg.Server.TLSCert)
	cfg.Server.TLSKey = ParseString("TOUCHSTREAM_TLS_KEY", cfg.Server.TLSKey)

	cfg.Library.Roots = ParseStringSlice("TOUCHSTREAM_RECORDINGS", cfg.Library.Roots)
	cfg.Library.DBPath = ParseString("TOUCHSTREAM_LIBRARY_DB", cfg.Library.DBPath)
	cfg.Library.Watch = ParseBool("TOUCHSTREAM_WATCH_LIBRARY", cfg.Library.Watch)
	cfg.Library.WatchDebounce = ParseDuration("TOUCHSTREAM_WATCH_DEBOUNCE", cfg.Library.WatchDebounce)

	cfg.Cache.Dir = ParseString("TOUCHSTREAM_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.IndexDir = ParseString("TOUCHSTREAM_INDEX_DIR", cfg.Cache.IndexDir)
	cfg.Cache.RedisAddr = ParseString("TOUCHSTREAM_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.SummaryTTL = ParseDuration("TOUCHSTREAM_SUMMARY_TTL", cfg.Cache.SummaryTTL)

	cfg.Viewer.Cmd = ParseString("TOUCHSTREAM_VIEWER_CMD", cfg.Viewer.Cmd)
	cfg.Viewer.Args = ParseString("TOUCHSTREAM_VIEWER_ARGS", cfg.Viewer.Args)
	cfg.Viewer.AppID = ParseString("TOUCHSTREAM_APP_ID", cfg.Viewer.AppID)
	cfg.Viewer.LayoutFile = ParseString("TOUCHSTREAM_LAYOUT_FILE", cfg.Viewer.LayoutFile)
	cfg.Viewer.DisableLayout = ParseBool("TOUCHSTREAM_DISABLE_LAYOUT", cfg.Viewer.DisableLayout)
	cfg.Viewer.SpawnRate = ParseFloat("TOUCHSTREAM_SPAWN_RATE", cfg.Viewer.SpawnRate)
	cfg.Viewer.SpawnBurst = ParseInt("TOUCHSTREAM_SPAWN_BURST", cfg.Viewer.SpawnBurst)

	cfg.Decode.OnError = ParseString("TOUCHSTREAM_ON_ERROR", cfg.Decode.OnError)
	cfg.Decode.HeaderMismatch = ParseString("TOUCHSTREAM_HEADER_MISMATCH", cfg.Decode.HeaderMismatch)
	cfg.Decode.CameraStride = ParseInt("TOUCHSTREAM_CAMERA_STRIDE", cfg.Decode.CameraStride)
	cfg.Decode.Prefetch = ParseBool("TOUCHSTREAM_PREFETCH", cfg.Decode.Prefetch)

	cfg.Telemetry.OTLPEndpoint = ParseString("TOUCHSTREAM_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.OTLPProtocol = ParseString("TOUCHSTREAM_OTLP_PROTOCOL", cfg.Telemetry.OTLPProtocol)
	cfg.Telemetry.SampleRate = ParseFloat("TOUCHSTREAM_TRACE_SAMPLE_RATE", cfg.Telemetry.SampleRate)
}
