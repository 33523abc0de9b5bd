package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[sync]
database = "/var/lib/ordersync/orders.db"
interval = "10m"
backfill_horizon = "168h"
lock_timeout = "15m"

[jobs]
retention_days = 14
webhook_url = "https://hooks.example.com/ordersync"

[network]
base_url = "https://oms.example.com/api"
token_url = "https://oms.example.com/oauth/token"
client_id = "ordersync"
connect_timeout = "5s"
data_timeout = "30s"

[server]
enabled = true
listen_addr = ":9000"

[shadow]
parity_enabled = true
parity_interval = "30m"
parity_window = "48h"

[logging]
log_level = "debug"
log_format = "json"
log_file = "/tmp/ordersync.log"
`

	path := writeTestConfig(t, tomlContent)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ordersync/orders.db", cfg.Sync.Database)
	assert.Equal(t, "10m", cfg.Sync.Interval)
	assert.Equal(t, "168h", cfg.Sync.BackfillHorizon)
	assert.Equal(t, 14, cfg.Jobs.RetentionDays)
	assert.Equal(t, "https://oms.example.com/api", cfg.Network.BaseURL)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.True(t, cfg.Shadow.ParityEnabled)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_DefaultsPreservedForUnsetFields(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
interval = "1m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1m", cfg.Sync.Interval)
	assert.Equal(t, defaultDatabase, cfg.Sync.Database)
	assert.Equal(t, defaultLockTimeout, cfg.Sync.LockTimeout)
	assert.Equal(t, defaultRetentionDays, cfg.Jobs.RetentionDays)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
intervall = "5m"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config keys")
	assert.Contains(t, err.Error(), "sync.intervall")
}

func TestLoad_InvalidDurationRejected(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
interval = "five minutes"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.interval")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_PrecedenceEnvThenCLI(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
database = "/from/file.db"
interval = "10m"
`)

	cliDB := "/from/cli.db"
	cfg, gotPath, err := Resolve(
		EnvOverrides{Database: "/from/env.db", ClientSecret: "s3cret"},
		CLIOverrides{ConfigPath: path, Database: &cliDB},
	)
	require.NoError(t, err)

	assert.Equal(t, path, gotPath)
	assert.Equal(t, "/from/cli.db", cfg.Sync.Database)
	assert.Equal(t, "s3cret", cfg.Network.ClientSecret)
	assert.Equal(t, "10m", cfg.Sync.Interval)
}

func TestResolve_EnvWinsOverFile(t *testing.T) {
	path := writeTestConfig(t, `
[network]
client_id = "from-file"
`)

	cfg, _, err := Resolve(
		EnvOverrides{ClientID: "from-env"},
		CLIOverrides{ConfigPath: path},
	)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Network.ClientID)
}
