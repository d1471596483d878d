// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

executor:
  url: "http://localhost:9000"
  token: "executor-token"
  connect_timeout: "15s"

sessions:
  idle_threshold: "2h"
  sweep_interval: "10m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	// Verify executor config with duration parsing
	if cfg.Executor.URL != "http://localhost:9000" {
		t.Errorf("Executor.URL = %q, want %q", cfg.Executor.URL, "http://localhost:9000")
	}
	if cfg.Executor.Token != "executor-token" {
		t.Errorf("Executor.Token = %q, want %q", cfg.Executor.Token, "executor-token")
	}
	if cfg.Executor.ConnectTimeout != 15*time.Second {
		t.Errorf("Executor.ConnectTimeout = %v, want %v", cfg.Executor.ConnectTimeout, 15*time.Second)
	}

	// Verify session timing config
	if cfg.Sessions.IdleThreshold != 2*time.Hour {
		t.Errorf("Sessions.IdleThreshold = %v, want %v", cfg.Sessions.IdleThreshold, 2*time.Hour)
	}
	if cfg.Sessions.SweepInterval != 10*time.Minute {
		t.Errorf("Sessions.SweepInterval = %v, want %v", cfg.Sessions.SweepInterval, 10*time.Minute)
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

executor:
  url: "http://localhost:9000"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q, want default %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Executor.ConnectTimeout != 10*time.Second {
		t.Errorf("Executor.ConnectTimeout = %v, want default %v", cfg.Executor.ConnectTimeout, 10*time.Second)
	}
	if cfg.Sessions.IdleThreshold != time.Hour {
		t.Errorf("Sessions.IdleThreshold = %v, want default %v", cfg.Sessions.IdleThreshold, time.Hour)
	}
	if cfg.Sessions.SweepInterval != 30*time.Minute {
		t.Errorf("Sessions.SweepInterval = %v, want default %v", cfg.Sessions.SweepInterval, 30*time.Minute)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want default %q", cfg.Logging.Format, "text")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_EXECUTOR_TOKEN", "token-from-env")
	t.Setenv("TEST_DB_PATH", "/var/lib/nexus/sessions.db")

	configPath := writeConfig(t, `
database:
  path: "${TEST_DB_PATH}"

executor:
  url: "http://localhost:9000"
  token: "${TEST_EXECUTOR_TOKEN}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify env var expansion
	if cfg.Executor.Token != "token-from-env" {
		t.Errorf("Executor.Token = %q, want %q", cfg.Executor.Token, "token-from-env")
	}
	if cfg.Database.Path != "/var/lib/nexus/sessions.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/var/lib/nexus/sessions.db")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
database:
  path: "./test.db"

executor:
  url: "http://localhost:9000"
  token: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Executor.Token != "" {
		t.Errorf("Executor.Token = %q, want empty string for unset env var", cfg.Executor.Token)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

executor:
  url: "http://localhost:9000"
  connect_timeout: "1m30s"

sessions:
  idle_threshold: "2h"
  sweep_interval: "45s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify complex duration parsing
	expectedTimeout := 1*time.Minute + 30*time.Second
	if cfg.Executor.ConnectTimeout != expectedTimeout {
		t.Errorf("Executor.ConnectTimeout = %v, want %v", cfg.Executor.ConnectTimeout, expectedTimeout)
	}

	if cfg.Sessions.IdleThreshold != 2*time.Hour {
		t.Errorf("Sessions.IdleThreshold = %v, want %v", cfg.Sessions.IdleThreshold, 2*time.Hour)
	}

	if cfg.Sessions.SweepInterval != 45*time.Second {
		t.Errorf("Sessions.SweepInterval = %v, want %v", cfg.Sessions.SweepInterval, 45*time.Second)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

executor:
  url: "http://localhost:9000"
  connect_timeout: "invalid-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing database path",
			configContent: `
database:
  path: ""
executor:
  url: "http://localhost:9000"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing executor url",
			configContent: `
database:
  path: "./test.db"
executor:
  url: ""
`,
			wantErrSubstr: "executor.url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
