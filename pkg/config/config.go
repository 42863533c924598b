// Package config provides configuration handling for missionwatch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// Engine locates the external execution engine
	Engine EngineConfig `yaml:"engine"`

	// Watch tunes the observation session
	Watch WatchConfig `yaml:"watch"`

	// Layout controls the abstract layout spacing
	Layout LayoutConfig `yaml:"layout"`

	// Logging configures log output
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig contains engine endpoints.
type EngineConfig struct {
	// BaseURL is the REST API root, e.g. "http://localhost:8089/api/v1"
	BaseURL string `yaml:"base_url"`

	// StreamURL is the websocket event stream endpoint
	StreamURL string `yaml:"stream_url"`

	// Timeout bounds each REST call
	Timeout time.Duration `yaml:"timeout"`
}

// WatchConfig contains session settings.
type WatchConfig struct {
	// ReconnectDelay is the fixed pause between reconnect attempts
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// LogCapacity bounds the transmission log
	LogCapacity int `yaml:"log_capacity"`

	// ReconcileSchedule is an optional cron expression for forced resyncs
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// LayoutConfig contains layout spacing settings.
type LayoutConfig struct {
	Padding    float64 `yaml:"padding"`
	HGap       float64 `yaml:"h_gap"`
	VGap       float64 `yaml:"v_gap"`
	NodeWidth  float64 `yaml:"node_width"`
	NodeHeight float64 `yaml:"node_height"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level to output
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			BaseURL:   "http://localhost:8089/api/v1",
			StreamURL: "ws://localhost:8089/api/v1/events",
			Timeout:   30 * time.Second,
		},
		Watch: WatchConfig{
			ReconnectDelay: 3 * time.Second,
			LogCapacity:    200,
		},
		Layout: LayoutConfig{
			Padding:    40,
			HGap:       220,
			VGap:       110,
			NodeWidth:  160,
			NodeHeight: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from MISSIONWATCH_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("MISSIONWATCH_ENGINE_URL"); v != "" {
		c.Engine.BaseURL = v
	}
	if v := os.Getenv("MISSIONWATCH_STREAM_URL"); v != "" {
		c.Engine.StreamURL = v
	}
	if v := os.Getenv("MISSIONWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MISSIONWATCH_LOG_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watch.LogCapacity = n
		}
	}
	if v := os.Getenv("MISSIONWATCH_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.ReconnectDelay = d
		}
	}
	if v := os.Getenv("MISSIONWATCH_RECONCILE_SCHEDULE"); v != "" {
		c.Watch.ReconcileSchedule = v
	}
}

// validate rejects configurations that cannot work.
func (c *Config) validate() error {
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}
	if c.Engine.StreamURL == "" {
		return fmt.Errorf("engine.stream_url is required")
	}
	if c.Watch.LogCapacity < 0 {
		return fmt.Errorf("watch.log_capacity must not be negative")
	}
	if c.Watch.ReconnectDelay < 0 {
		return fmt.Errorf("watch.reconnect_delay must not be negative")
	}
	return nil
}
