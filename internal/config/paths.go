package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath returns the default config file location,
// ~/.config/ordersync/config.toml, honoring XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}

		base = filepath.Join(home, ".config")
	}

	return filepath.Join(base, "ordersync", "config.toml")
}

// ExpandHome replaces a leading "~/" with the user's home directory. Paths
// without the prefix are returned unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}

		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	return path
}
