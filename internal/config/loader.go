package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Dispatcher modes.
const (
	DispatcherImmediate = "immediate"
	DispatcherBuffered  = "buffered"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by package defaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	SDKKey       string `json:"sdk_key" yaml:"sdk_key" toml:"sdk_key"`
	DatafilePath string `json:"datafile_path" yaml:"datafile_path" toml:"datafile_path"`
	AccessToken  string `json:"access_token" yaml:"access_token" toml:"access_token"`
	URLTemplate  string `json:"url_template" yaml:"url_template" toml:"url_template"`
	// LiveUpdates is a pointer so an explicit false survives merging.
	LiveUpdates      *bool  `json:"live_updates" yaml:"live_updates" toml:"live_updates"`
	UpdateIntervalMS int    `json:"update_interval_ms" yaml:"update_interval_ms" toml:"update_interval_ms"`
	MaxCacheAgeMS    int    `json:"max_cache_age_ms" yaml:"max_cache_age_ms" toml:"max_cache_age_ms"`
	CacheDirective   string `json:"cache_directive" yaml:"cache_directive" toml:"cache_directive"`
	RequestTimeoutMS int    `json:"request_timeout_ms" yaml:"request_timeout_ms" toml:"request_timeout_ms"`

	EventEndpoint       string `json:"event_endpoint" yaml:"event_endpoint" toml:"event_endpoint"`
	FlushIntervalMS     int    `json:"flush_interval_ms" yaml:"flush_interval_ms" toml:"flush_interval_ms"`
	MaxQueueSize        int    `json:"max_queue_size" yaml:"max_queue_size" toml:"max_queue_size"`
	DispatcherMode      string `json:"dispatcher_mode" yaml:"dispatcher_mode" toml:"dispatcher_mode"`
	DispatchConcurrency int    `json:"dispatch_concurrency" yaml:"dispatch_concurrency" toml:"dispatch_concurrency"`

	ReadyTimeoutMS    int `json:"ready_timeout_ms" yaml:"ready_timeout_ms" toml:"ready_timeout_ms"`
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`

	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	Tracing      bool     `json:"tracing" yaml:"tracing" toml:"tracing"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from FLAGSYNC_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("FLAGSYNC_ADDR", &cfg.Addr)
	str("FLAGSYNC_LOG_LEVEL", &cfg.LogLevel)
	str("FLAGSYNC_LOG_FORMAT", &cfg.LogFormat)
	str("FLAGSYNC_SDK_KEY", &cfg.SDKKey)
	str("FLAGSYNC_DATAFILE_PATH", &cfg.DatafilePath)
	str("FLAGSYNC_ACCESS_TOKEN", &cfg.AccessToken)
	str("FLAGSYNC_URL_TEMPLATE", &cfg.URLTemplate)
	str("FLAGSYNC_CACHE_DIRECTIVE", &cfg.CacheDirective)
	str("FLAGSYNC_EVENT_ENDPOINT", &cfg.EventEndpoint)
	str("FLAGSYNC_DISPATCHER_MODE", &cfg.DispatcherMode)
	if v, ok := lookup("FLAGSYNC_CORS_ORIGINS"); ok && v != "" {
		cfg.CORSOrigins = SplitCSV(v)
	}

	for key, dst := range map[string]*int{
		"FLAGSYNC_UPDATE_INTERVAL_MS":   &cfg.UpdateIntervalMS,
		"FLAGSYNC_MAX_CACHE_AGE_MS":     &cfg.MaxCacheAgeMS,
		"FLAGSYNC_REQUEST_TIMEOUT_MS":   &cfg.RequestTimeoutMS,
		"FLAGSYNC_FLUSH_INTERVAL_MS":    &cfg.FlushIntervalMS,
		"FLAGSYNC_MAX_QUEUE_SIZE":       &cfg.MaxQueueSize,
		"FLAGSYNC_DISPATCH_CONCURRENCY": &cfg.DispatchConcurrency,
		"FLAGSYNC_READY_TIMEOUT_MS":     &cfg.ReadyTimeoutMS,
		"FLAGSYNC_SHUTDOWN_TIMEOUT_MS":  &cfg.ShutdownTimeoutMS,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("FLAGSYNC_LIVE_UPDATES"); ok && v != "" {
		var live bool
		if err := flag("FLAGSYNC_LIVE_UPDATES", &live); err != nil {
			return err
		}
		cfg.LiveUpdates = &live
	}
	if err := flag("FLAGSYNC_CORS_ENABLED", &cfg.CORSEnabled); err != nil {
		return err
	}
	return flag("FLAGSYNC_TRACING", &cfg.Tracing)
}

// Validate reports settings the daemon cannot start with.
func (c Config) Validate() error {
	if c.SDKKey == "" && c.DatafilePath == "" {
		return fmt.Errorf("one of sdk_key or datafile_path is required")
	}
	switch c.DispatcherMode {
	case "", DispatcherImmediate, DispatcherBuffered:
	default:
		return fmt.Errorf("unknown dispatcher_mode %q", c.DispatcherMode)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	for name, v := range map[string]int{
		"update_interval_ms": c.UpdateIntervalMS,
		"max_cache_age_ms":   c.MaxCacheAgeMS,
		"request_timeout_ms": c.RequestTimeoutMS,
		"flush_interval_ms":  c.FlushIntervalMS,
		"max_queue_size":     c.MaxQueueSize,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
