// Package config handles loading, defaulting, and validation of the Heimdall
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"   json:"logging"`
	Server    ServerConfig    `toml:"server"    json:"server"`
	Collector CollectorConfig `toml:"collector" json:"collector"`
	Tracker   TrackerConfig   `toml:"tracker"   json:"tracker"`
	Neovim    NeovimConfig    `toml:"neovim"    json:"neovim"`
	Demo      DemoConfig      `toml:"demo"      json:"demo"`
	Bifrost   BifrostConfig   `toml:"bifrost"   json:"bifrost"`
}

type LoggingConfig struct {
	Level    string `toml:"level"    json:"level"`
	Encoding string `toml:"encoding" json:"encoding"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

// CollectorConfig describes the gRPC endpoint metrics are shipped to. An
// empty Schema selects the schema compiled into the binary.
type CollectorConfig struct {
	Address        string `toml:"address"          json:"address"`
	Schema         string `toml:"schema"           json:"schema"`
	Namespace      string `toml:"namespace"        json:"namespace"`
	Service        string `toml:"service"          json:"service"`
	CallTimeoutMS  int    `toml:"call_timeout_ms"  json:"call_timeout_ms"`
	ReadyTimeoutMS int    `toml:"ready_timeout_ms" json:"ready_timeout_ms"`
	Compression    string `toml:"compression"      json:"compression"`
	MaxInFlight    int    `toml:"max_in_flight"    json:"max_in_flight"`
}

type TrackerConfig struct {
	QuietWindowMS        int `toml:"quiet_window_ms"        json:"quiet_window_ms"`
	TTLMinutes           int `toml:"ttl_minutes"            json:"ttl_minutes"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds" json:"sweep_interval_seconds"`
}

type NeovimConfig struct {
	Socket string `toml:"socket" json:"socket"`
}

// DemoConfig enables a scripted editor session that exercises the tracker
// without a real editor attached.
type DemoConfig struct {
	Enabled         bool `toml:"enabled"          json:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds" json:"interval_seconds"`
}

func (d DemoConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

type BifrostConfig struct {
	Bind     string `toml:"bind"     json:"bind"`
	Database string `toml:"database" json:"database"`
}

// CallTimeout returns the per-call RPC deadline.
func (c CollectorConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// ReadyTimeout returns the bounded wait used by the readiness probe.
func (c CollectorConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutMS) * time.Millisecond
}

func (t TrackerConfig) QuietWindow() time.Duration {
	return time.Duration(t.QuietWindowMS) * time.Millisecond
}

// TTL returns how long an untouched tracked line is retained. Zero disables
// eviction.
func (t TrackerConfig) TTL() time.Duration {
	return time.Duration(t.TTLMinutes) * time.Minute
}

func (t TrackerConfig) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalSeconds) * time.Second
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Server: ServerConfig{
			Bind: "127.0.0.1:8750",
		},
		Collector: CollectorConfig{
			Address:        "localhost:50051",
			Namespace:      "heimdall",
			Service:        "metricService",
			CallTimeoutMS:  10000,
			ReadyTimeoutMS: 10000,
		},
		Tracker: TrackerConfig{
			QuietWindowMS:        5000,
			TTLMinutes:           0,
			SweepIntervalSeconds: 60,
		},
		Demo: DemoConfig{
			IntervalSeconds: 30,
		},
		Bifrost: BifrostConfig{
			Bind:     "[::]:50051",
			Database: "bifrost.db",
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when path does
// not exist. Any other failure is returned.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func validate(cfg Config) error {
	switch cfg.Logging.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("logging.encoding must be console or json, got %q", cfg.Logging.Encoding)
	}
	if cfg.Collector.Address == "" {
		return errors.New("collector.address must not be empty")
	}
	if cfg.Collector.Namespace == "" || cfg.Collector.Service == "" {
		return errors.New("collector.namespace and collector.service must not be empty")
	}
	if cfg.Collector.CallTimeoutMS <= 0 {
		return errors.New("collector.call_timeout_ms must be > 0")
	}
	if cfg.Collector.ReadyTimeoutMS <= 0 {
		return errors.New("collector.ready_timeout_ms must be > 0")
	}
	switch cfg.Collector.Compression {
	case "", "br":
	default:
		return fmt.Errorf("collector.compression must be empty or br, got %q", cfg.Collector.Compression)
	}
	if cfg.Collector.MaxInFlight < 0 {
		return errors.New("collector.max_in_flight must be >= 0")
	}
	if cfg.Tracker.QuietWindowMS <= 0 {
		return errors.New("tracker.quiet_window_ms must be > 0")
	}
	if cfg.Tracker.TTLMinutes < 0 {
		return errors.New("tracker.ttl_minutes must be >= 0")
	}
	if cfg.Tracker.TTLMinutes > 0 && cfg.Tracker.SweepIntervalSeconds < 1 {
		return errors.New("tracker.sweep_interval_seconds must be >= 1 when ttl is enabled")
	}
	if cfg.Demo.Enabled && cfg.Demo.IntervalSeconds < 1 {
		return errors.New("demo.interval_seconds must be >= 1 when demo is enabled")
	}
	return nil
}
