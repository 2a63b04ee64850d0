// Package internal holds the small pieces cmd/picoclaw's subcommands
// share: config-path resolution and the banner they print on startup.
package internal

import (
	"os"
	"path/filepath"

	"github.com/aisopod/aisopod/pkg/config"
)

// Logo prefixes interactive CLI output.
const Logo = "🐾"

// configEnvVar overrides the default config path when set.
const configEnvVar = "PICOCLAW_CONFIG"

// LoadConfig resolves the config file path (PICOCLAW_CONFIG env var, else
// ~/.picoclaw/config.json) and loads it. A missing file is not an error:
// config.LoadConfig returns defaults in that case.
func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(defaultConfigPath())
}

func defaultConfigPath() string {
	if p := os.Getenv(configEnvVar); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".picoclaw/config.json"
	}
	return filepath.Join(home, ".picoclaw", "config.json")
}
