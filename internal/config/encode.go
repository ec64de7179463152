package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Encode renders cfg as a toml or yaml document
func Encode(cfg *Config, format string) ([]byte, error) {
	settings := cfg.Settings()

	switch strings.ToLower(format) {
	case "toml", "":
		return toml.Marshal(settings)
	case "yaml", "yml":
		return yaml.Marshal(settings)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}

// WriteFile writes cfg to path in the format implied by its extension.
// Existing files are not overwritten.
func WriteFile(cfg *Config, path string) error {
	data, err := Encode(cfg, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
