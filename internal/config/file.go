// SPDX-License-Identifier: MIT

package config

import "time"

// FileConfig mirrors the YAML config file. Pointer fields distinguish
// "absent" from zero values during merging.
type FileConfig struct {
	DataDir  *string `yaml:"data_dir"`
	LogLevel *string `yaml:"log_level"`

	Server *struct {
		Listen         *string        `yaml:"listen"`
		MetricsListen  *string        `yaml:"metrics_listen"`
		APIToken       *string        `yaml:"api_token"`
		CORSOrigins    []string       `yaml:"cors_origins"`
		RateLimitRPS   *int           `yaml:"rate_limit_rps"`
		RateLimitBurst *int           `yaml:"rate_limit_burst"`
		MaxConns       *int           `yaml:"max_conns"`
		ShutdownGrace  *time.Duration `yaml:"shutdown_grace"`
		TLSCert        *string        `yaml:"tls_cert"`
		TLSKey         *string        `yaml:"tls_key"`
	} `yaml:"server"`

	Library *struct {
		Roots         []string       `yaml:"roots"`
		DBPath        *string        `yaml:"db_path"`
		Watch         *bool          `yaml:"watch"`
		WatchDebounce *time.Duration `yaml:"watch_debounce"`
	} `yaml:"library"`

	Cache *struct {
		Dir        *string        `yaml:"dir"`
		IndexDir   *string        `yaml:"index_dir"`
		RedisAddr  *string        `yaml:"redis_addr"`
		SummaryTTL *time.Duration `yaml:"summary_ttl"`
	} `yaml:"cache"`

	Viewer *struct {
		Cmd           *string  `yaml:"cmd"`
		Args          *string  `yaml:"args"`
		AppID         *string  `yaml:"app_id"`
		LayoutFile    *string  `yaml:"layout_file"`
		DisableLayout *bool    `yaml:"disable_layout"`
		SpawnRate     *float64 `yaml:"spawn_rate"`
		SpawnBurst    *int     `yaml:"spawn_burst"`
	} `yaml:"viewer"`

	Decode *struct {
		OnError        *string `yaml:"on_error"`
		HeaderMismatch *string `yaml:"header_mismatch"`
		CameraStride   *int    `yaml:"camera_stride"`
		Prefetch       *bool   `yaml:"prefetch"`
	} `yaml:"decode"`

	Telemetry *struct {
		OTLPEndpoint *string  `yaml:"otlp_endpoint"`
		OTLPProtocol *string  `yaml:"otlp_protocol"`
		SampleRate   *float64 `yaml:"sample_rate"`
	} `yaml:"telemetry"`
}
