// Package config loads the coordination directory's TOML configuration.
// Every field has a default, so a missing or empty file is a valid
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the tunables shared by the daemon and the CLI.
type Config struct {
	HeartbeatInterval   time.Duration `toml:"heartbeat_interval"`    // agent heartbeat cadence (default 10s)
	CrashThreshold      time.Duration `toml:"crash_threshold"`       // heartbeat silence before crash recovery (default 45s)
	DefaultTTL          time.Duration `toml:"default_ttl"`           // ticket TTL when the caller gives none (default 5m)
	MaxTTL              time.Duration `toml:"max_ttl"`               // ceiling on any requested TTL (default 30m)
	DetectorInterval    time.Duration `toml:"detector_interval"`     // deadlock detection cadence (default 15s)
	ReaperInterval      time.Duration `toml:"reaper_interval"`       // recovery sweep cadence (default 30s)
	RetryCeiling        int           `toml:"retry_ceiling"`         // task requeues before escalation (default 3)
	AgingRate           int           `toml:"aging_rate"`            // priority points per minute waited (default 1)
	QueueDepthThreshold int           `toml:"queue_depth_threshold"` // saturation bound for advisory routing (default 3)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = 10 * time.Second
	}
	if out.CrashThreshold == 0 {
		out.CrashThreshold = 45 * time.Second
	}
	if out.DefaultTTL == 0 {
		out.DefaultTTL = 5 * time.Minute
	}
	if out.MaxTTL == 0 {
		out.MaxTTL = 30 * time.Minute
	}
	if out.DetectorInterval == 0 {
		out.DetectorInterval = 15 * time.Second
	}
	if out.ReaperInterval == 0 {
		out.ReaperInterval = 30 * time.Second
	}
	if out.RetryCeiling == 0 {
		out.RetryCeiling = 3
	}
	if out.AgingRate == 0 {
		out.AgingRate = 1
	}
	if out.QueueDepthThreshold == 0 {
		out.QueueDepthThreshold = 3
	}
	return out
}

// Default returns the configuration with every field at its default.
func Default() Config {
	var c Config
	return c.withDefaults()
}

// Load reads the TOML config at path. A missing file yields the defaults;
// fields absent from the file take their defaults too.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	c = c.withDefaults()
	if err := c.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Write serializes the config to path. Used by init to materialize the
// defaults so operators have a file to edit.
func Write(path string, c Config) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c Config) validate() error {
	if c.MaxTTL < c.DefaultTTL {
		return fmt.Errorf("max_ttl %s below default_ttl %s", c.MaxTTL, c.DefaultTTL)
	}
	if c.RetryCeiling < 0 || c.AgingRate < 0 || c.QueueDepthThreshold < 0 {
		return fmt.Errorf("negative tunable")
	}
	return nil
}

// ClampTTL bounds a requested TTL to (0, MaxTTL], substituting DefaultTTL
// for zero.
func (c Config) ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.DefaultTTL
	}
	if ttl > c.MaxTTL {
		return c.MaxTTL
	}
	return ttl
}
