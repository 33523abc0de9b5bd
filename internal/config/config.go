// Package config implements TOML configuration loading, validation, and the
// override chain for ordersync: defaults -> config file -> environment ->
// CLI flags. Durations are stored as strings in the file and parsed during
// validation so a typo fails at startup instead of mid-cycle.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Jobs    JobsConfig    `toml:"jobs"`
	Network NetworkConfig `toml:"network"`
	Server  ServerConfig  `toml:"server"`
	Shadow  ShadowConfig  `toml:"shadow"`
	Logging LoggingConfig `toml:"logging"`
}

// SyncConfig controls the incremental sync loop: how often cycles run, how
// far back the first cycle reaches, and when a dead holder's lock is
// reclaimed.
type SyncConfig struct {
	Database        string `toml:"database"`
	Interval        string `toml:"interval"`
	BackfillHorizon string `toml:"backfill_horizon"`
	LockTimeout     string `toml:"lock_timeout"`
}

// JobsConfig controls the background job queue.
type JobsConfig struct {
	RetentionDays int    `toml:"retention_days"`
	WebhookURL    string `toml:"webhook_url"`
}

// NetworkConfig holds the order-management service endpoint and credentials.
// ClientSecret is normally supplied via ORDERSYNC_CLIENT_SECRET rather than
// the config file.
type NetworkConfig struct {
	BaseURL        string `toml:"base_url"`
	TokenURL       string `toml:"token_url"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
}

// ServerConfig controls the HTTP trigger surface exposed in serve mode.
type ServerConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// ShadowConfig controls the shadow-mode parity check against the legacy
// pipeline's snapshot table.
type ShadowConfig struct {
	ParityEnabled  bool   `toml:"parity_enabled"`
	ParityInterval string `toml:"parity_interval"`
	ParityWindow   string `toml:"parity_window"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Database   *string // --database flag
	Interval   *string // --interval flag
}

// Duration accessors. Validate has already checked parseability, so a parse
// failure here means the value was mutated after validation; fall back to
// the default rather than panic.

func (c *SyncConfig) IntervalDuration() time.Duration {
	return parseDuration(c.Interval, defaultInterval)
}

func (c *SyncConfig) BackfillHorizonDuration() time.Duration {
	return parseDuration(c.BackfillHorizon, defaultBackfillHorizon)
}

func (c *SyncConfig) LockTimeoutDuration() time.Duration {
	return parseDuration(c.LockTimeout, defaultLockTimeout)
}

func (c *NetworkConfig) ConnectTimeoutDuration() time.Duration {
	return parseDuration(c.ConnectTimeout, defaultConnectTimeout)
}

func (c *NetworkConfig) DataTimeoutDuration() time.Duration {
	return parseDuration(c.DataTimeout, defaultDataTimeout)
}

func (c *ShadowConfig) ParityIntervalDuration() time.Duration {
	return parseDuration(c.ParityInterval, defaultParityInterval)
}

func (c *ShadowConfig) ParityWindowDuration() time.Duration {
	return parseDuration(c.ParityWindow, defaultParityWindow)
}

func parseDuration(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}

	return d
}
