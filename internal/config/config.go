// SPDX-License-Identifier: MIT

// Package config loads touchstream configuration with the precedence
// ENV > config file > defaults.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Decode policy names accepted by TOUCHSTREAM_ON_ERROR and the config file.
const (
	OnErrorSkipEvent  = "skip-event"
	OnErrorSkipStream = "skip-stream"
	OnErrorAbort      = "abort"
)

// Header mismatch policy names.
const (
	HeaderMismatchWarn   = "warn"
	HeaderMismatchStrict = "strict"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Listen         string        // API listen address
	MetricsListen  string        // separate Prometheus listener, empty disables
	APIToken       string        // optional bearer token for mutating routes
	CORSOrigins    []string      // allowed origins, empty means same-origin only
	RateLimitRPS   int           // per-IP requests per window
	RateLimitBurst int           // burst allowance
	MaxConns       int           // concurrent connection cap on the API listener
	ShutdownGrace  time.Duration // graceful shutdown budget
	TLSCert        string
	TLSKey         string
}

// LibraryConfig holds recordings discovery settings.
type LibraryConfig struct {
	Roots         []string // directories scanned for .touch recordings
	DBPath        string   // sqlite catalog path
	Watch         bool     // fsnotify rescan on root changes
	WatchDebounce time.Duration
}

// CacheConfig holds artifact cache and summary cache settings.
type CacheConfig struct {
	Dir        string        // converted artifact directory
	IndexDir   string        // badger conversion index directory
	RedisAddr  string        // optional redis backend for summary cache
	SummaryTTL time.Duration // library summary cache TTL
}

// ViewerConfig holds external viewer process settings.
type ViewerConfig struct {
	Cmd           string // viewer executable, resolved from PATH when empty
	Args          string // extra arguments, shell-like splitting
	AppID         string // application id handed to the viewer
	LayoutFile    string // custom layout YAML, empty uses the embedded default
	DisableLayout bool
	SpawnRate     float64 // viewer spawns per second
	SpawnBurst    int
}

// DecodeConfig holds default decode options for conversions.
type DecodeConfig struct {
	OnError        string // skip-event | skip-stream | abort
	HeaderMismatch string // warn | strict
	CameraStride   int    // spatial downsample factor, 1 keeps full frames
	Prefetch       bool   // one-ahead chunk prefetch
}

// TelemetryConfig holds OTLP trace export settings.
type TelemetryConfig struct {
	OTLPEndpoint string  // empty disables export
	OTLPProtocol string  // grpc | http
	SampleRate   float64 // 0..1
}

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	DataDir   string
	LogLevel  string
	Version   string
	Server    ServerConfig
	Library   LibraryConfig
	Cache     CacheConfig
	Viewer    ViewerConfig
	Decode    DecodeConfig
	Telemetry TelemetryConfig
}

// CacheDir returns the artifact cache directory, defaulting under DataDir.
func (c AppConfig) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.DataDir, "cache")
}

// IndexDir returns the badger index directory, defaulting under DataDir.
func (c AppConfig) IndexDir() string {
	if c.Cache.IndexDir != "" {
		return c.Cache.IndexDir
	}
	return filepath.Join(c.DataDir, "index")
}

// LibraryDBPath returns the sqlite catalog path, defaulting under DataDir.
func (c AppConfig) LibraryDBPath() string {
	if c.Library.DBPath != "" {
		return c.Library.DBPath
	}
	return filepath.Join(c.DataDir, "library.db")
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg AppConfig) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	switch cfg.Decode.OnError {
	case OnErrorSkipEvent, OnErrorSkipStream, OnErrorAbort:
	default:
		return fmt.Errorf("unknown on-error policy %q", cfg.Decode.OnError)
	}
	switch cfg.Decode.HeaderMismatch {
	case HeaderMismatchWarn, HeaderMismatchStrict:
	default:
		return fmt.Errorf("unknown header-mismatch policy %q", cfg.Decode.HeaderMismatch)
	}
	if cfg.Decode.CameraStride < 1 {
		return fmt.Errorf("camera stride must be >= 1, got %d", cfg.Decode.CameraStride)
	}
	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return fmt.Errorf("trace sample rate must be within [0,1], got %v", cfg.Telemetry.SampleRate)
	}
	switch cfg.Telemetry.OTLPProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown otlp protocol %q", cfg.Telemetry.OTLPProtocol)
	}
	if cfg.Server.RateLimitRPS < 1 {
		return fmt.Errorf("rate limit rps must be >= 1, got %d", cfg.Server.RateLimitRPS)
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		return fmt.Errorf("tls cert and key must be set together")
	}
	return nil
}
