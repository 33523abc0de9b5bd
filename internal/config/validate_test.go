package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty database",
			mutate:  func(c *Config) { c.Sync.Database = "" },
			wantErr: "sync.database",
		},
		{
			name:    "interval below minimum",
			mutate:  func(c *Config) { c.Sync.Interval = "100ms" },
			wantErr: "sync.interval",
		},
		{
			name:    "lock timeout not a duration",
			mutate:  func(c *Config) { c.Sync.LockTimeout = "soon" },
			wantErr: "sync.lock_timeout",
		},
		{
			name:    "retention days zero",
			mutate:  func(c *Config) { c.Jobs.RetentionDays = 0 },
			wantErr: "jobs.retention_days",
		},
		{
			name: "server enabled without addr",
			mutate: func(c *Config) {
				c.Server.Enabled = true
				c.Server.ListenAddr = ""
			},
			wantErr: "server.listen_addr",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.LogLevel = "verbose" },
			wantErr: "logging.log_level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.LogFormat = "xml" },
			wantErr: "logging.log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.Interval = "2m"

	assert.Equal(t, "2m0s", cfg.Sync.IntervalDuration().String())
	assert.Equal(t, "30m0s", cfg.Sync.LockTimeoutDuration().String())
	assert.Equal(t, "720h0m0s", cfg.Sync.BackfillHorizonDuration().String())
}

func TestHolder(t *testing.T) {
	first := DefaultConfig()
	holder := NewHolder(first, "/tmp/config.toml")

	assert.Same(t, first, holder.Config())
	assert.Equal(t, "/tmp/config.toml", holder.Path())

	second := DefaultConfig()
	second.Sync.Interval = "1m"
	holder.Update(second)

	assert.Same(t, second, holder.Config())
}
