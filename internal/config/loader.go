package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables read by Load.
const (
	EnvPrefix     = "SHOTLINK_"
	EnvConfigFile = "SHOTLINK_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SHOTLINK_CONFIG is set
//  3. env (prefix SHOTLINK_); list keys take comma separated values
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// SHOTLINK_QUEUE_SIZE -> queue_size. The config file path itself is not a key.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		if s == EnvConfigFile {
			return ""
		}
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, strings.ToLower(EnvPrefix))
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistent setting as a wrapped ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.OnsetThresholdG <= 0:
		return invalid("onset_threshold_g must be positive")
	case c.PeakThresholdG < c.OnsetThresholdG:
		return invalid("peak_threshold_g (%v) below onset_threshold_g (%v)", c.PeakThresholdG, c.OnsetThresholdG)
	case c.MinDurationSamples < 1 || c.MaxDurationSamples < c.MinDurationSamples:
		return invalid("duration range [%d, %d] is empty", c.MinDurationSamples, c.MaxDurationSamples)
	case c.WindowSize < c.MaxDurationSamples:
		return invalid("window_size must hold max_duration_samples")
	case c.CalibrationSamples < 2:
		return invalid("calibration_samples must be at least 2")
	case c.CorrelationWindowMS <= 0:
		return invalid("correlation_window_ms must be positive")
	case c.RetentionHorizonMS < c.CorrelationWindowMS:
		return invalid("retention_horizon_ms must not be shorter than correlation_window_ms")
	case c.TieBreak != "earliest" && c.TieBreak != "latest":
		return invalid("tie_break %q must be earliest or latest", c.TieBreak)
	case len(c.TimeReferences) == 0:
		return invalid("time_references must not be empty")
	case c.MaxCorrectionMS < 0 || c.DriftCorrectionMS < 0 || c.DriftAlertMS < 0:
		return invalid("drift thresholds must not be negative")
	case c.QueueSize <= 0 || c.WorkerCount <= 0:
		return invalid("queue_size and worker_count must be positive")
	}

	switch c.Driver {
	case DriverBLE, DriverMQTT, DriverSim:
	default:
		return invalid("driver %q must be ble, mqtt or sim", c.Driver)
	}
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return invalid("store %q must be file or sqlite", c.Store)
	}

	seen := make(map[string]struct{}, len(c.Peripherals))
	for _, p := range c.Peripherals {
		if p.ID == "" {
			return invalid("peripheral id must not be empty")
		}
		if _, dup := seen[p.ID]; dup {
			return invalid("duplicate peripheral id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Kind != KindTimer && p.Kind != KindMotion {
			return invalid("peripheral %q kind %q must be timer or motion", p.ID, p.Kind)
		}
	}
	return nil
}
