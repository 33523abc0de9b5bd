package config

// Default values for configuration options. These are the "layer 0" of the
// override chain and work for a local dev setup without any config file.
const (
	defaultDatabase        = "~/.local/share/ordersync/ordersync.db"
	defaultInterval        = "5m"
	defaultBackfillHorizon = "720h" // 30 days
	defaultLockTimeout     = "30m"
	defaultRetentionDays   = 30
	defaultConnectTimeout  = "10s"
	defaultDataTimeout     = "60s"
	defaultListenAddr      = ":8480"
	defaultParityInterval  = "1h"
	defaultParityWindow    = "24h"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// used both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Database:        defaultDatabase,
			Interval:        defaultInterval,
			BackfillHorizon: defaultBackfillHorizon,
			LockTimeout:     defaultLockTimeout,
		},
		Jobs: JobsConfig{
			RetentionDays: defaultRetentionDays,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: defaultListenAddr,
		},
		Shadow: ShadowConfig{
			ParityEnabled:  false,
			ParityInterval: defaultParityInterval,
			ParityWindow:   defaultParityWindow,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
