// ABOUTME: Configuration loading for the nexus-admin CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Output  OutputConfig  `toml:"output"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type OutputConfig struct {
	Timestamps bool `toml:"timestamps"`
}

// configPath returns the admin config file location.
// Priority: NEXUS_ADMIN_CONFIG env var > XDG_CONFIG_HOME/nexus/admin.toml > ~/.config/nexus/admin.toml
func configPath() string {
	if envPath := os.Getenv("NEXUS_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "nexus", "admin.toml")
}

// loadConfig reads the admin config, falling back to environment and
// defaults when no config file exists. A missing file is not an error;
// the CLI should work out of the box against a local gateway.
func loadConfig() (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configPath())
	if err == nil {
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if envURL := os.Getenv("NEXUS_GATEWAY_URL"); envURL != "" {
		cfg.Gateway.URL = envURL
	}
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = "http://localhost:8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that config fields are present and valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	return nil
}
