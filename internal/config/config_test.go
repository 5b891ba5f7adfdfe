package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Check essential defaults
	if cfg.Hub.DataDir != "./data" {
		t.Errorf("Hub.DataDir = %s, want ./data", cfg.Hub.DataDir)
	}
	if cfg.Hub.LogLevel != "info" {
		t.Errorf("Hub.LogLevel = %s, want info", cfg.Hub.LogLevel)
	}
	if cfg.Ingest.Address != ":8880" {
		t.Errorf("Ingest.Address = %s, want :8880", cfg.Ingest.Address)
	}
	if cfg.Ingest.Path != "/ingest" {
		t.Errorf("Ingest.Path = %s, want /ingest", cfg.Ingest.Path)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %s, want memory", cfg.Store.Backend)
	}
	if cfg.Limits.StatusInterval != time.Minute {
		t.Errorf("Limits.StatusInterval = %v, want 1m", cfg.Limits.StatusInterval)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() should validate, got %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
hub:
  data_dir: "./data"
  log_level: "debug"
  log_format: "json"

ingest:
  enabled: true
  address: "0.0.0.0:9880"
  path: "/frames"
  max_gateways: 64
  read_timeout: 2m

metrics:
  enabled: true
  address: ":9091"

store:
  backend: sqlite
  path: "./data/nodes.db"

keys:
  master_key: "` + strings.Repeat("ab", 32) + `"

nodes:
  - id: "aaaaaaaa55550000"
    counter: "2a0003190000"
  - id: "bbbbbbbb55550000"
    key: "000102030405060708090a0b0c0d0e0f"

limits:
  reject_log_per_sec: 2
  reject_log_burst: 5
  status_interval: 30s
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Verify parsed values
	if cfg.Hub.LogLevel != "debug" {
		t.Errorf("Hub.LogLevel = %s, want debug", cfg.Hub.LogLevel)
	}
	if cfg.Hub.LogFormat != "json" {
		t.Errorf("Hub.LogFormat = %s, want json", cfg.Hub.LogFormat)
	}
	if cfg.Ingest.Address != "0.0.0.0:9880" {
		t.Errorf("Ingest.Address = %s, want 0.0.0.0:9880", cfg.Ingest.Address)
	}
	if cfg.Ingest.Path != "/frames" {
		t.Errorf("Ingest.Path = %s, want /frames", cfg.Ingest.Path)
	}
	if cfg.Ingest.MaxGateways != 64 {
		t.Errorf("Ingest.MaxGateways = %d, want 64", cfg.Ingest.MaxGateways)
	}
	if cfg.Ingest.ReadTimeout != 2*time.Minute {
		t.Errorf("Ingest.ReadTimeout = %v, want 2m", cfg.Ingest.ReadTimeout)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %s, want sqlite", cfg.Store.Backend)
	}
	if cfg.Store.Path != "./data/nodes.db" {
		t.Errorf("Store.Path = %s, want ./data/nodes.db", cfg.Store.Path)
	}
	if len(cfg.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(cfg.Nodes))
	}
	if cfg.Nodes[0].Counter != "2a0003190000" {
		t.Errorf("Nodes[0].Counter = %s, want 2a0003190000", cfg.Nodes[0].Counter)
	}
	if cfg.Nodes[1].Key != "000102030405060708090a0b0c0d0e0f" {
		t.Errorf("Nodes[1].Key = %s, wrong key", cfg.Nodes[1].Key)
	}
	if cfg.Limits.RejectLogPerSec != 2 {
		t.Errorf("Limits.RejectLogPerSec = %v, want 2", cfg.Limits.RejectLogPerSec)
	}
	if cfg.Limits.StatusInterval != 30*time.Second {
		t.Errorf("Limits.StatusInterval = %v, want 30s", cfg.Limits.StatusInterval)
	}
}

func TestParse_MinimalConfig(t *testing.T) {
	yamlConfig := `
hub:
  data_dir: "./data"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Should use defaults for unspecified fields
	if cfg.Hub.LogLevel != "info" {
		t.Errorf("Hub.LogLevel = %s, want info (default)", cfg.Hub.LogLevel)
	}
	if cfg.Ingest.MaxGateways != 32 {
		t.Errorf("Ingest.MaxGateways = %d, want 32 (default)", cfg.Ingest.MaxGateways)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	yamlConfig := `
hub:
  data_dir: "./data"
  invalid yaml here [
`

	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Error("Parse() should fail for invalid YAML")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantError string
	}{
		{
			name: "invalid log level",
			yaml: `
hub:
  data_dir: "./data"
  log_level: "invalid"
`,
			wantError: "invalid log_level",
		},
		{
			name: "invalid log format",
			yaml: `
hub:
  data_dir: "./data"
  log_format: "invalid"
`,
			wantError: "invalid log_format",
		},
		{
			name: "ingest path without slash",
			yaml: `
hub:
  data_dir: "./data"
ingest:
  enabled: true
  address: ":8880"
  path: "ingest"
`,
			wantError: "ingest.path must start with /",
		},
		{
			name: "invalid store backend",
			yaml: `
hub:
  data_dir: "./data"
store:
  backend: redis
`,
			wantError: "invalid store.backend",
		},
		{
			name: "sqlite backend without path",
			yaml: `
hub:
  data_dir: "./data"
store:
  backend: sqlite
  path: ""
`,
			wantError: "store.path is required",
		},
		{
			name: "master key wrong length",
			yaml: `
hub:
  data_dir: "./data"
keys:
  master_key: "abcd"
`,
			wantError: "keys.master_key must be 64 hex characters",
		},
		{
			name: "node id not hex",
			yaml: `
hub:
  data_dir: "./data"
nodes:
  - id: "zzzzzzzz55550000"
    key: "000102030405060708090a0b0c0d0e0f"
`,
			wantError: "nodes[0].id must be 16 hex characters",
		},
		{
			name: "node key wrong length",
			yaml: `
hub:
  data_dir: "./data"
nodes:
  - id: "aaaaaaaa55550000"
    key: "0001"
`,
			wantError: "nodes[0].key must be 32 hex characters",
		},
		{
			name: "node key required without master",
			yaml: `
hub:
  data_dir: "./data"
nodes:
  - id: "aaaaaaaa55550000"
`,
			wantError: "key is required without keys.master_key",
		},
		{
			name: "node counter wrong length",
			yaml: `
hub:
  data_dir: "./data"
nodes:
  - id: "aaaaaaaa55550000"
    key: "000102030405060708090a0b0c0d0e0f"
    counter: "2a00"
`,
			wantError: "nodes[0].counter must be 12 hex characters",
		},
		{
			name: "zero reject log rate",
			yaml: `
hub:
  data_dir: "./data"
limits:
  reject_log_per_sec: 0
`,
			wantError: "reject_log_per_sec must be positive",
		},
		{
			name: "sub-second status interval",
			yaml: `
hub:
  data_dir: "./data"
limits:
  status_interval: 100ms
`,
			wantError: "status_interval must be at least 1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Error("Parse() should fail")
				return
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Error = %v, want to contain %q", err, tt.wantError)
			}
		})
	}
}

func TestParse_NodeKeyOptionalWithMaster(t *testing.T) {
	yamlConfig := `
hub:
  data_dir: "./data"
keys:
  master_key: "` + strings.Repeat("cd", 32) + `"
nodes:
  - id: "aaaaaaaa55550000"
`

	if _, err := Parse([]byte(yamlConfig)); err != nil {
		t.Errorf("Parse() error = %v, node key should be optional with a master key", err)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	// Set test environment variables
	os.Setenv("TEST_DATA_DIR", "/custom/data")
	os.Setenv("TEST_NODE_KEY", "000102030405060708090a0b0c0d0e0f")
	defer func() {
		os.Unsetenv("TEST_DATA_DIR")
		os.Unsetenv("TEST_NODE_KEY")
	}()

	yamlConfig := `
hub:
  data_dir: "${TEST_DATA_DIR}"

nodes:
  - id: "aaaaaaaa55550000"
    key: "$TEST_NODE_KEY"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Hub.DataDir != "/custom/data" {
		t.Errorf("Hub.DataDir = %s, want /custom/data", cfg.Hub.DataDir)
	}
	if cfg.Nodes[0].Key != "000102030405060708090a0b0c0d0e0f" {
		t.Errorf("Nodes[0].Key = %s, env var not expanded", cfg.Nodes[0].Key)
	}
}

func TestParse_EnvVarDefaultValue(t *testing.T) {
	// Ensure the variable is NOT set
	os.Unsetenv("NONEXISTENT_VAR")

	yamlConfig := `
hub:
  data_dir: "${NONEXISTENT_VAR:-/default/path}"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Hub.DataDir != "/default/path" {
		t.Errorf("Hub.DataDir = %s, want /default/path", cfg.Hub.DataDir)
	}
}

func TestParse_EnvVarNotFound(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR")

	yamlConfig := `
hub:
  data_dir: "${NONEXISTENT_VAR}"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Should keep the original placeholder if not found
	if cfg.Hub.DataDir != "${NONEXISTENT_VAR}" {
		t.Errorf("Hub.DataDir = %s, want ${NONEXISTENT_VAR}", cfg.Hub.DataDir)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should fail for nonexistent file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
hub:
  data_dir: "./data"
  log_level: "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.LogLevel != "debug" {
		t.Errorf("Hub.LogLevel = %s, want debug", cfg.Hub.LogLevel)
	}
}

func TestConfig_Validate_MissingDataDir(t *testing.T) {
	cfg := Default()
	cfg.Hub.DataDir = ""

	err := cfg.Validate()
	if err == nil {
		t.Error("Validate() should fail with empty data_dir")
	}
}

func TestConfig_Validate_IngestEnabledNoAddress(t *testing.T) {
	cfg := Default()
	cfg.Ingest.Enabled = true
	cfg.Ingest.Address = ""

	err := cfg.Validate()
	if err == nil {
		t.Error("Validate() should fail when ingest enabled without address")
	}
}

func TestConfig_Validate_MetricsEnabledNoAddress(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Address = ""

	err := cfg.Validate()
	if err == nil {
		t.Error("Validate() should fail when metrics enabled without address")
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Default()
	s := cfg.String()

	// Should contain key fields
	if !strings.Contains(s, "hub") {
		t.Error("String() should contain 'hub'")
	}
	if !strings.Contains(s, "ingest") {
		t.Error("String() should contain 'ingest'")
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Default()
	cfg.Keys.MasterKey = strings.Repeat("ab", 32)
	cfg.Nodes = []NodeConfig{
		{ID: "aaaaaaaa55550000", Key: "000102030405060708090a0b0c0d0e0f"},
		{ID: "bbbbbbbb55550000"},
	}

	redacted := cfg.Redacted()
	if redacted.Keys.MasterKey != "[REDACTED]" {
		t.Errorf("Redacted().Keys.MasterKey = %s, want [REDACTED]", redacted.Keys.MasterKey)
	}
	if redacted.Nodes[0].Key != "[REDACTED]" {
		t.Errorf("Redacted().Nodes[0].Key = %s, want [REDACTED]", redacted.Nodes[0].Key)
	}
	if redacted.Nodes[1].Key != "" {
		t.Errorf("Redacted().Nodes[1].Key = %s, want empty", redacted.Nodes[1].Key)
	}

	// Original must be untouched
	if cfg.Keys.MasterKey == "[REDACTED]" {
		t.Error("Redacted() modified the original config")
	}

	s := cfg.String()
	if strings.Contains(s, cfg.Keys.MasterKey) {
		t.Error("String() should not expose the master key")
	}
	if !strings.Contains(cfg.StringUnsafe(), cfg.Keys.MasterKey) {
		t.Error("StringUnsafe() should include the master key")
	}
}

func TestConfig_HasSensitiveData(t *testing.T) {
	cfg := Default()
	if cfg.HasSensitiveData() {
		t.Error("HasSensitiveData() = true for default config")
	}

	cfg.Keys.MasterKey = strings.Repeat("ab", 32)
	if !cfg.HasSensitiveData() {
		t.Error("HasSensitiveData() = false with master key set")
	}

	cfg = Default()
	cfg.Nodes = []NodeConfig{{ID: "aaaaaaaa55550000", Key: strings.Repeat("11", 16)}}
	if !cfg.HasSensitiveData() {
		t.Error("HasSensitiveData() = false with node key set")
	}
}

func TestIsValidHex(t *testing.T) {
	tests := []struct {
		s     string
		bytes int
		valid bool
	}{
		{"aaaaaaaa55550000", 8, true},
		{"AAAAAAAA55550000", 8, true},
		{"aaaaaaaa5555000", 8, false},
		{"aaaaaaaa555500001", 8, false},
		{"zzaaaaaa55550000", 8, false},
		{"", 8, false},
		{"2a0003190000", 6, true},
	}

	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			if got := isValidHex(tt.s, tt.bytes); got != tt.valid {
				t.Errorf("isValidHex(%q, %d) = %v, want %v", tt.s, tt.bytes, got, tt.valid)
			}
		})
	}
}
