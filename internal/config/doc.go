// Package config handles configuration loading for nexus-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from NEXUS_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/nexus/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	executor:
//	  token: "${NEXUS_EXECUTOR_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  idle_threshold: "1h"
//	  sweep_interval: "30m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and WebSocket connections
//
// Database:
//
//	database:
//	  path: "/var/lib/nexus/sessions.db"
//
// Tool executor backend:
//
//	executor:
//	  url: "https://executor.attck.nexus"
//	  token: "${NEXUS_EXECUTOR_TOKEN}"
//	  connect_timeout: "10s"
//
// Session expiry:
//
//	sessions:
//	  idle_threshold: "1h"
//	  sweep_interval: "30m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database path presence
//   - Executor URL presence
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/nexus/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
