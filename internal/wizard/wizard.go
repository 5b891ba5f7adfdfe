// Package wizard provides an interactive setup wizard for a sensegrid hub.
package wizard

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/sensegrid/sensegrid/internal/config"
	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/keys"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string

	// GeneratedMasterKey is set when the wizard created a fresh master
	// key, so the caller can remind the operator to store it safely.
	GeneratedMasterKey bool
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	// Step 1: Basic setup
	dataDir, configPath, err := w.askBasicSetup()
	if err != nil {
		return nil, err
	}

	// Step 2: Ingest listener
	ingest, err := w.askIngestConfig()
	if err != nil {
		return nil, err
	}

	// Step 3: Key material
	masterKey, generated, err := w.askKeyMaterial()
	if err != nil {
		return nil, err
	}

	// Step 4: Node provisioning
	nodes, err := w.askNodes(masterKey != "")
	if err != nil {
		return nil, err
	}

	// Step 5: Association store backend
	store, err := w.askStoreConfig(dataDir)
	if err != nil {
		return nil, err
	}

	// Step 6: Advanced options
	metricsCfg, logLevel, err := w.askAdvancedOptions()
	if err != nil {
		return nil, err
	}

	// Build configuration
	cfg := config.Default()
	cfg.Hub.DataDir = dataDir
	cfg.Hub.LogLevel = logLevel
	cfg.Ingest = ingest
	cfg.Keys.MasterKey = masterKey
	cfg.Nodes = nodes
	cfg.Store = store
	cfg.Metrics = metricsCfg

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generated config is invalid: %w", err)
	}

	// Write configuration file
	if err := w.writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	// Print summary
	w.printSummary(configPath, cfg, generated)

	return &Result{
		Config:             cfg,
		ConfigPath:         configPath,
		DataDir:            dataDir,
		GeneratedMasterKey: generated,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
  ____                       ____      _     _
 / ___|  ___ _ __  ___  ___ / ___|_ __(_) __| |
 \___ \ / _ \ '_ \/ __|/ _ \ |  _| '__| |/ _' |
  ___) |  __/ | | \__ \  __/ |_| | |  | | (_| |
 |____/ \___|_| |_|___/\___|\____|_|  |_|\__,_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Secure Valve & Sensor Network Hub - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup() (dataDir, configPath string, err error) {
	dataDir = "./data"
	configPath = "./config.yaml"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Configure the essential paths for your hub."),

			huh.NewInput().
				Title("Data Directory").
				Description("Where to store hub state").
				Placeholder("./data").
				Value(&dataDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("data directory is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&configPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("config path is required")
					}
					if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
						return fmt.Errorf("config file should have .yaml or .yml extension")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askIngestConfig() (config.IngestConfig, error) {
	cfg := config.Default().Ingest
	maxGateways := strconv.Itoa(cfg.MaxGateways)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Frame Ingest").
				Description("Gateways forward radio frames to this WebSocket endpoint."),

			huh.NewInput().
				Title("Listen Address").
				Description("Address and port for gateway connections").
				Placeholder(":8880").
				Value(&cfg.Address).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("listen address is required")
					}
					if _, _, err := net.SplitHostPort(s); err != nil {
						return fmt.Errorf("invalid address format (use host:port)")
					}
					return nil
				}),

			huh.NewInput().
				Title("WebSocket Path").
				Description("URL path gateways connect to").
				Placeholder("/ingest").
				Value(&cfg.Path).
				Validate(func(s string) error {
					if s == "" || !strings.HasPrefix(s, "/") {
						return fmt.Errorf("path must start with /")
					}
					return nil
				}),

			huh.NewInput().
				Title("Max Gateways").
				Description("Concurrent gateway connection limit").
				Placeholder(maxGateways).
				Value(&maxGateways).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("must be a positive number")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return cfg, err
	}

	cfg.Enabled = true
	cfg.MaxGateways, _ = strconv.Atoi(maxGateways)
	return cfg, nil
}

// askKeyMaterial returns the master key hex (empty for per-node keys
// only) and whether it was freshly generated.
func (w *Wizard) askKeyMaterial() (string, bool, error) {
	var choice string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Key Material").
				Description("Node keys are pre-shared AES-128 keys.\nA master key lets the hub derive them on demand."),

			huh.NewSelect[string]().
				Title("Key Setup").
				Options(
					huh.NewOption("Generate a new master key (Recommended)", "generate"),
					huh.NewOption("Paste an existing master key", "paste"),
					huh.NewOption("Per-node keys only", "pernode"),
				).
				Value(&choice),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return "", false, err
	}

	switch choice {
	case "generate":
		buf := make([]byte, keys.MasterKeySize)
		if _, err := rand.Read(buf); err != nil {
			return "", false, fmt.Errorf("failed to generate master key: %w", err)
		}
		return hex.EncodeToString(buf), true, nil

	case "paste":
		var masterHex string
		pasteForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Master Key").
					Description("64 hex characters").
					EchoMode(huh.EchoModePassword).
					Value(&masterHex).
					Validate(func(s string) error {
						b, err := hex.DecodeString(s)
						if err != nil || len(b) != keys.MasterKeySize {
							return fmt.Errorf("must be %d hex characters", keys.MasterKeySize*2)
						}
						return nil
					}),
			),
		).WithTheme(w.theme)
		if err := pasteForm.Run(); err != nil {
			return "", false, err
		}
		return masterHex, false, nil

	default:
		return "", false, nil
	}
}

func (w *Wizard) askNodes(haveMaster bool) ([]config.NodeConfig, error) {
	var addNodes bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Node Provisioning").
				Description("Declare the leaf nodes this hub accepts frames from.\nNodes can also be added to the config later."),

			huh.NewConfirm().
				Title("Add nodes now?").
				Value(&addNodes),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return nil, err
	}

	if !addNodes {
		return nil, nil
	}

	var nodes []config.NodeConfig
	addMore := true

	for addMore {
		node, err := w.askSingleNode(haveMaster, len(nodes)+1)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)

		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another node?").
					Value(&addMore),
			),
		).WithTheme(w.theme)

		if err := confirmForm.Run(); err != nil {
			return nil, err
		}
	}

	return nodes, nil
}

func (w *Wizard) askSingleNode(haveMaster bool, nodeNum int) (config.NodeConfig, error) {
	var node config.NodeConfig
	var idHex string

	keyDesc := "32 hex characters"
	if haveMaster {
		keyDesc = "32 hex characters, or empty to derive from the master key"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Node #%d", nodeNum)),

			huh.NewInput().
				Title("Node ID").
				Description("16 hex characters, or 'generate' for a random ID").
				Placeholder("generate").
				Value(&idHex).
				Validate(func(s string) error {
					if s == "" || s == "generate" {
						return nil
					}
					if _, err := identity.ParseNodeID(s); err != nil {
						return fmt.Errorf("must be 16 hex characters")
					}
					return nil
				}),

			huh.NewInput().
				Title("Node Key").
				Description(keyDesc).
				EchoMode(huh.EchoModePassword).
				Value(&node.Key).
				Validate(func(s string) error {
					if s == "" {
						if haveMaster {
							return nil
						}
						return fmt.Errorf("key is required without a master key")
					}
					b, err := hex.DecodeString(s)
					if err != nil || len(b) != 16 {
						return fmt.Errorf("must be 32 hex characters")
					}
					return nil
				}),

			huh.NewInput().
				Title("Initial Counter (optional)").
				Description("12 hex characters, for re-provisioned nodes").
				Value(&node.Counter).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					b, err := hex.DecodeString(s)
					if err != nil || len(b) != 6 {
						return fmt.Errorf("must be 12 hex characters")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return node, err
	}

	if idHex == "" || idHex == "generate" {
		id, err := identity.NewNodeID()
		if err != nil {
			return node, fmt.Errorf("failed to generate node ID: %w", err)
		}
		node.ID = id.String()
		fmt.Printf("\n✓ Generated node ID: %s\n\n", node.ID)
	} else {
		node.ID = idHex
	}

	return node, nil
}

func (w *Wizard) askStoreConfig(dataDir string) (config.StoreConfig, error) {
	cfg := config.StoreConfig{
		Backend: "sqlite",
		Path:    filepath.Join(dataDir, "assoc.db"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Association Store").
				Description("The store holds per-node message counters.\nSQLite survives restarts; memory does not."),

			huh.NewSelect[string]().
				Title("Backend").
				Options(
					huh.NewOption("SQLite (Recommended)", "sqlite"),
					huh.NewOption("In-memory (testing only)", "memory"),
				).
				Value(&cfg.Backend),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return cfg, err
	}

	if cfg.Backend == "sqlite" {
		pathForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Database Path").
					Placeholder(cfg.Path).
					Value(&cfg.Path).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("database path is required")
						}
						return nil
					}),
			),
		).WithTheme(w.theme)

		if err := pathForm.Run(); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (w *Wizard) askAdvancedOptions() (config.MetricsConfig, string, error) {
	metricsCfg := config.MetricsConfig{
		Enabled: true,
		Address: ":9090",
	}
	logLevel := "info"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&logLevel),

			huh.NewConfirm().
				Title("Enable metrics endpoint?").
				Description("HTTP endpoint for Prometheus (/metrics) and health checks").
				Value(&metricsCfg.Enabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return metricsCfg, logLevel, err
	}

	if metricsCfg.Enabled {
		addrForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Metrics Address").
					Placeholder(":9090").
					Value(&metricsCfg.Address).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("address is required")
						}
						_, _, err := net.SplitHostPort(s)
						return err
					}),
			),
		).WithTheme(w.theme)

		if err := addrForm.Run(); err != nil {
			return metricsCfg, logLevel, err
		}
	}

	return metricsCfg, logLevel, nil
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Add header comment
	header := `# SenseGrid Hub Configuration
# Generated by setup wizard

`
	// The config carries key material: keep it operator-readable only.
	if err := os.WriteFile(path, []byte(header+string(data)), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config, generatedMaster bool) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Data dir:     %s\n", cfg.Hub.DataDir)
	fmt.Printf("  Ingest:       ws://%s%s\n", cfg.Ingest.Address, cfg.Ingest.Path)
	fmt.Printf("  Store:        %s\n", cfg.Store.Backend)
	fmt.Printf("  Nodes:        %d provisioned\n", len(cfg.Nodes))

	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:      http://%s/metrics\n", cfg.Metrics.Address)
	}

	if generatedMaster {
		warn := lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))
		fmt.Println()
		fmt.Println(warn.Render("  A new master key was written to the config file."))
		fmt.Println(warn.Render("  Back it up: losing it means re-provisioning every node."))
	}

	fmt.Println()
	fmt.Println("  To start the hub:")
	fmt.Printf("    sensegrid run -c %s\n", configPath)
	fmt.Println()
}
