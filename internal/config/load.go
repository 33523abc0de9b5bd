package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal: silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values so the tool runs without a file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the config file path alongside the config so serve mode can
// watch the file for changes.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, "", err
	}

	if env.Database != "" {
		cfg.Sync.Database = env.Database
	}

	if env.BaseURL != "" {
		cfg.Network.BaseURL = env.BaseURL
	}

	if env.TokenURL != "" {
		cfg.Network.TokenURL = env.TokenURL
	}

	if env.ClientID != "" {
		cfg.Network.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.Network.ClientSecret = env.ClientSecret
	}

	if cli.Database != nil {
		cfg.Sync.Database = *cli.Database
	}

	if cli.Interval != nil {
		cfg.Sync.Interval = *cli.Interval
	}

	if err := Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("config validation: %w", err)
	}

	cfg.Sync.Database = ExpandHome(cfg.Sync.Database)

	return cfg, cfgPath, nil
}

// checkUnknownKeys returns an error listing any keys in the TOML file that
// did not map to a Config field.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}

	return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
}
