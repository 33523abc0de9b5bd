package config

import (
	"fmt"
	"time"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks a Config for internal consistency. It is run after every
// load, including hot reloads, so a bad edit never reaches the sync loop.
func Validate(cfg *Config) error {
	if cfg.Sync.Database == "" {
		return fmt.Errorf("sync.database must not be empty")
	}

	durations := []struct {
		key   string
		value string
		min   time.Duration
	}{
		{"sync.interval", cfg.Sync.Interval, time.Second},
		{"sync.backfill_horizon", cfg.Sync.BackfillHorizon, time.Minute},
		{"sync.lock_timeout", cfg.Sync.LockTimeout, time.Minute},
		{"network.connect_timeout", cfg.Network.ConnectTimeout, time.Second},
		{"network.data_timeout", cfg.Network.DataTimeout, time.Second},
		{"shadow.parity_interval", cfg.Shadow.ParityInterval, time.Minute},
		{"shadow.parity_window", cfg.Shadow.ParityWindow, time.Minute},
	}

	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", d.key, d.value, err)
		}

		if parsed < d.min {
			return fmt.Errorf("%s: %s is below the minimum of %s", d.key, parsed, d.min)
		}
	}

	if cfg.Jobs.RetentionDays < 1 {
		return fmt.Errorf("jobs.retention_days must be at least 1, got %d", cfg.Jobs.RetentionDays)
	}

	if cfg.Server.Enabled && cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty when the server is enabled")
	}

	if !validLogLevels[cfg.Logging.LogLevel] {
		return fmt.Errorf("logging.log_level: unknown level %q", cfg.Logging.LogLevel)
	}

	if !validLogFormats[cfg.Logging.LogFormat] {
		return fmt.Errorf("logging.log_format: unknown format %q", cfg.Logging.LogFormat)
	}

	return nil
}
