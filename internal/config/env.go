package config

import "os"

// Environment variable names for overrides. Credentials are accepted from
// the environment so they can stay out of the config file.
const (
	EnvConfig       = "ORDERSYNC_CONFIG"
	EnvDatabase     = "ORDERSYNC_DATABASE"
	EnvBaseURL      = "ORDERSYNC_BASE_URL"
	EnvTokenURL     = "ORDERSYNC_TOKEN_URL"
	EnvClientID     = "ORDERSYNC_CLIENT_ID"
	EnvClientSecret = "ORDERSYNC_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string
	Database     string
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		Database:     os.Getenv(EnvDatabase),
		BaseURL:      os.Getenv(EnvBaseURL),
		TokenURL:     os.Getenv(EnvTokenURL),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}
