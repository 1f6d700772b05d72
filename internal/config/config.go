// Package config holds the YAML-tagged tunables shared by the robot
// and controller binaries: mixer limits, shaper constants, watchdog
// timeout, and UDP port. A config file is optional; all fields default
// to the named constants in spec.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of file-overridable tunables.
type Config struct {
	Port int `yaml:"port"`

	Mixer struct {
		MaxSpeed float64 `yaml:"max_speed"`
		TurnRate float64 `yaml:"turn_rate"`
	} `yaml:"mixer"`

	Watchdog struct {
		TimeoutMs int `yaml:"timeout_ms"`
	} `yaml:"watchdog"`

	Shaper struct {
		DeadZone                float64 `yaml:"dead_zone"`
		ThrottleExpo            float64 `yaml:"throttle_expo"`
		SteeringExpo            float64 `yaml:"steering_expo"`
		ThrottleSensitivity     float64 `yaml:"throttle_sensitivity"`
		SteeringSensitivity     float64 `yaml:"steering_sensitivity"`
		SpeedSteeringReduction  float64 `yaml:"speed_steering_reduction"`
		TrimThreshold           float64 `yaml:"trim_threshold"`
		// TriggerDeadZone is not read by the input package, which uses
		// its own fixed 10% trigger deadzone.
		TriggerDeadZone         float64 `yaml:"trigger_dead_zone"`
	} `yaml:"shaper"`

	MaxAgeMs int `yaml:"max_age_ms"`
}

// Default returns a Config populated with the named constants from the
// specification: MAX_SPEED=1.0, TURN_RATE=1.0, timeout_ms=500,
// DEAD_ZONE=0.08, THROTTLE_EXPO=2.0, STEERING_EXPO=1.5,
// THROTTLE_SENSITIVITY=1.0, STEERING_SENSITIVITY=0.4,
// SPEED_STEERING_REDUCTION tuned to a gentle default of 0.5, trim
// gating at 0.05, a 10% trigger deadzone, and max_age_ms=500.
func Default() Config {
	var c Config
	c.Port = 8765
	c.Mixer.MaxSpeed = 1.0
	c.Mixer.TurnRate = 1.0
	c.Watchdog.TimeoutMs = 500
	c.Shaper.DeadZone = 0.08
	c.Shaper.ThrottleExpo = 2.0
	c.Shaper.SteeringExpo = 1.5
	c.Shaper.ThrottleSensitivity = 1.0
	c.Shaper.SteeringSensitivity = 0.4
	c.Shaper.SpeedSteeringReduction = 0.5
	c.Shaper.TrimThreshold = 0.05
	c.Shaper.TriggerDeadZone = 0.10
	c.MaxAgeMs = 500
	return c
}

// WatchdogTimeout is a convenience accessor returning TimeoutMs as a
// time.Duration.
func (c Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.Watchdog.TimeoutMs) * time.Millisecond
}

// MaxAge is a convenience accessor returning MaxAgeMs as a time.Duration.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeMs) * time.Millisecond
}

// Load reads path, if non-empty, and overlays its fields onto the
// defaults. A missing or empty path is not an error: the caller just
// gets Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
