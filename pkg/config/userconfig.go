package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig holds user-level defaults loaded from
// ~/.config/historify/config.yaml. It never affects repository semantics,
// only CLI presentation.
type UserConfig struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json, console
	} `yaml:"logging"`
	NoColor bool `yaml:"no_color"`
}

// DefaultUser returns the built-in user defaults.
func DefaultUser() *UserConfig {
	u := &UserConfig{}
	u.Logging.Level = "warn"
	u.Logging.Format = "console"
	return u
}

// LoadUser reads the user config file, falling back to defaults when absent.
func LoadUser() (*UserConfig, error) {
	u := DefaultUser()

	home, err := os.UserHomeDir()
	if err != nil {
		return u, nil
	}
	path := filepath.Join(home, ".config", "historify", "config.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return u, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, u); err != nil {
		return nil, err
	}
	return u, nil
}
