// Package config provides configuration parsing and validation for sensegrid.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hub configuration.
type Config struct {
	Hub     HubConfig     `yaml:"hub"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Metrics MetricsConfig `yaml:"metrics"`
	Store   StoreConfig   `yaml:"store"`
	Keys    KeysConfig    `yaml:"keys"`
	Nodes   []NodeConfig  `yaml:"nodes"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// HubConfig contains hub identity and logging settings.
type HubConfig struct {
	DataDir   string `yaml:"data_dir"`   // Directory for persistent state
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// IngestConfig defines the gateway-facing frame ingest listener.
type IngestConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Address     string        `yaml:"address"` // listen address
	Path        string        `yaml:"path"`    // WebSocket path
	MaxGateways int           `yaml:"max_gateways"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// MetricsConfig defines the Prometheus/health endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// StoreConfig selects the association table backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite
	Path    string `yaml:"path"`    // sqlite database path
}

// KeysConfig holds shared key material.
type KeysConfig struct {
	MasterKey string `yaml:"master_key"` // 64 hex chars; per-node keys derived from it
}

// NodeConfig declares an associated leaf node.
type NodeConfig struct {
	ID      string `yaml:"id"`      // 16 hex chars
	Key     string `yaml:"key"`     // 32 hex chars; optional with a master key
	Counter string `yaml:"counter"` // 12 hex chars; initial message counter, optional
}

// LimitsConfig defines flood-protection and reporting parameters.
type LimitsConfig struct {
	RejectLogPerSec float64       `yaml:"reject_log_per_sec"` // rejection log rate limit
	RejectLogBurst  int           `yaml:"reject_log_burst"`
	StatusInterval  time.Duration `yaml:"status_interval"` // periodic status log
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Ingest: IngestConfig{
			Enabled:     true,
			Address:     ":8880",
			Path:        "/ingest",
			MaxGateways: 32,
			ReadTimeout: 90 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    "./data/assoc.db",
		},
		Nodes: []NodeConfig{},
		Limits: LimitsConfig{
			RejectLogPerSec: 5,
			RejectLogBurst:  10,
			StatusInterval:  time.Minute,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		// Simple lookup
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Validate hub config
	if c.Hub.DataDir == "" {
		errs = append(errs, "hub.data_dir is required")
	}
	if !isValidLogLevel(c.Hub.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Hub.LogLevel))
	}
	if !isValidLogFormat(c.Hub.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Hub.LogFormat))
	}

	// Validate ingest
	if c.Ingest.Enabled {
		if c.Ingest.Address == "" {
			errs = append(errs, "ingest.address is required when enabled")
		}
		if !strings.HasPrefix(c.Ingest.Path, "/") {
			errs = append(errs, fmt.Sprintf("ingest.path must start with /: %s", c.Ingest.Path))
		}
		if c.Ingest.MaxGateways < 1 {
			errs = append(errs, "ingest.max_gateways must be positive")
		}
	}

	// Validate metrics
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when enabled")
	}

	// Validate store
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid store.backend: %s (must be memory or sqlite)", c.Store.Backend))
	}

	// Validate key material
	if c.Keys.MasterKey != "" && !isValidHex(c.Keys.MasterKey, 32) {
		errs = append(errs, "keys.master_key must be 64 hex characters")
	}

	// Validate nodes
	for i, n := range c.Nodes {
		if !isValidHex(n.ID, 8) {
			errs = append(errs, fmt.Sprintf("nodes[%d].id must be 16 hex characters", i))
		}
		if n.Key == "" {
			if c.Keys.MasterKey == "" {
				errs = append(errs, fmt.Sprintf("nodes[%d]: key is required without keys.master_key", i))
			}
		} else if !isValidHex(n.Key, 16) {
			errs = append(errs, fmt.Sprintf("nodes[%d].key must be 32 hex characters", i))
		}
		if n.Counter != "" && !isValidHex(n.Counter, 6) {
			errs = append(errs, fmt.Sprintf("nodes[%d].counter must be 12 hex characters", i))
		}
	}

	// Validate limits
	if c.Limits.RejectLogPerSec <= 0 {
		errs = append(errs, "limits.reject_log_per_sec must be positive")
	}
	if c.Limits.RejectLogBurst < 1 {
		errs = append(errs, "limits.reject_log_burst must be positive")
	}
	if c.Limits.StatusInterval < time.Second {
		errs = append(errs, "limits.status_interval must be at least 1s")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidHex(s string, bytes int) bool {
	b, err := hex.DecodeString(s)
	return err == nil && len(b) == bytes
}

// String returns a string representation of the config (for debugging).
// WARNING: This method redacts sensitive values. Use StringUnsafe() for full output.
func (c *Config) String() string {
	redacted := c.Redacted()
	data, _ := yaml.Marshal(redacted)
	return string(data)
}

// StringUnsafe returns a string representation including sensitive values.
// Use with caution - do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
// This is safe to log or display to users.
func (c *Config) Redacted() *Config {
	// Create a deep copy by marshaling and unmarshaling
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Keys.MasterKey != "" {
		redacted.Keys.MasterKey = redactedValue
	}
	for i := range redacted.Nodes {
		if redacted.Nodes[i].Key != "" {
			redacted.Nodes[i].Key = redactedValue
		}
	}

	return redacted
}

// HasSensitiveData returns true if the config contains any sensitive data.
func (c *Config) HasSensitiveData() bool {
	if c.Keys.MasterKey != "" {
		return true
	}
	for _, n := range c.Nodes {
		if n.Key != "" {
			return true
		}
	}
	return false
}
