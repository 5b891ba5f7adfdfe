// Package main provides the CLI entry point for the sensegrid hub and
// node-side tools.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"nhooyr.io/websocket"

	"github.com/sensegrid/sensegrid/internal/config"
	"github.com/sensegrid/sensegrid/internal/frame"
	"github.com/sensegrid/sensegrid/internal/hub"
	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/keys"
	"github.com/sensegrid/sensegrid/internal/msgctr"
	"github.com/sensegrid/sensegrid/internal/scratch"
	"github.com/sensegrid/sensegrid/internal/secure"
	"github.com/sensegrid/sensegrid/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sensegrid",
		Short: "SenseGrid - Secure valve and sensor network hub",
		Long: `SenseGrid receives authenticated frames from low-power valve and
sensor nodes via radio gateways.

The hub verifies AES-128-GCM secure frames against per-node message
counters, tracks node state and exports Prometheus metrics. Node-side
tools for provisioning and frame diagnostics are included.`,
		Version: Version,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(encodeCmd())
	rootCmd.AddCommand(decodeCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive hub setup",
		Long:  "Run the interactive setup wizard and write a hub configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the hub",
		Long:  "Start the hub with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			svc, err := hub.NewService(cfg)
			if err != nil {
				return fmt.Errorf("failed to create hub: %w", err)
			}

			fmt.Println("Starting SenseGrid hub...")
			if err := svc.Start(); err != nil {
				return fmt.Errorf("failed to start hub: %w", err)
			}

			if addr := svc.IngestAddress(); addr != "" {
				fmt.Printf("Ingest:  ws://%s%s\n", addr, cfg.Ingest.Path)
			}
			if addr := svc.StatusAddress(); addr != "" {
				fmt.Printf("Metrics: http://%s/metrics\n", addr)
			}
			fmt.Printf("Nodes:   %d provisioned\n", len(cfg.Nodes))

			// Wait for shutdown signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := svc.Stop(ctx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Hub stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func keygenCmd() *cobra.Command {
	var masterHex, nodeIDHex string
	var nodeKey bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate or derive key material",
		Long: `Generate a random master key (or a single node key with --node),
or derive a node key from an existing master key with --master and
--node-id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeKey {
				buf := make([]byte, secure.KeySize)
				if _, err := rand.Read(buf); err != nil {
					return fmt.Errorf("failed to generate key: %w", err)
				}
				fmt.Printf("Node key: %s\n", hex.EncodeToString(buf))
				secure.ZeroBytes(buf)
				return nil
			}
			if masterHex != "" || nodeIDHex != "" {
				if masterHex == "" || nodeIDHex == "" {
					return fmt.Errorf("--master and --node-id must be used together")
				}
				id, err := identity.ParseNodeID(nodeIDHex)
				if err != nil {
					return err
				}
				reg, err := keys.NewMasterRegistry(masterHex)
				if err != nil {
					return err
				}
				defer reg.Close()

				key, ok := reg.Lookup(id)
				if !ok {
					return fmt.Errorf("key derivation failed")
				}
				fmt.Printf("Node ID:  %s\n", id.String())
				fmt.Printf("Node key: %s\n", hex.EncodeToString(key[:]))
				return nil
			}

			buf := make([]byte, keys.MasterKeySize)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			fmt.Printf("Master key: %s\n", hex.EncodeToString(buf))
			secure.ZeroBytes(buf)
			return nil
		},
	}

	cmd.Flags().StringVar(&masterHex, "master", "", "Master key (64 hex chars) to derive from")
	cmd.Flags().StringVar(&nodeIDHex, "node-id", "", "Node ID (16 hex chars) to derive a key for")
	cmd.Flags().BoolVar(&nodeKey, "node", false, "Generate a single random node key instead")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sensegrid %s\n", Version)
		},
	}
}

// newTXContext loads (or creates) a node identity and counter state
// from dataDir and arms it with the given key.
func newTXContext(dataDir, keyHex string) (*secure.TXContext, bool, error) {
	key, err := readKey(keyHex)
	if err != nil {
		return nil, false, err
	}

	id, created, err := identity.LoadOrCreate(dataDir)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load node identity: %w", err)
	}

	state, err := msgctr.OpenTXState(dataDir)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open counter state: %w", err)
	}

	tx := &secure.TXContext{ID: id, State: state}
	copy(tx.Key[:], key)
	secure.ZeroBytes(key)
	return tx, created, nil
}

// readKey returns the 16 key bytes from keyHex, prompting on the
// terminal when empty.
func readKey(keyHex string) ([]byte, error) {
	if keyHex == "" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprint(os.Stderr, "Node key (32 hex chars): ")
			line, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, err
			}
			keyHex = string(line)
		} else {
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return nil, fmt.Errorf("no key on stdin")
			}
			keyHex = strings.TrimSpace(scanner.Text())
		}
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != secure.KeySize {
		return nil, fmt.Errorf("key must be %d hex characters", secure.KeySize*2)
	}
	return key, nil
}

// buildFrame encodes one secure frame for the node in dataDir and
// returns the wire bytes.
func buildFrame(dataDir, keyHex string, beacon bool, percent int, stats string, idLen int) ([]byte, error) {
	tx, created, err := newTXContext(dataDir, keyHex)
	if err != nil {
		return nil, err
	}
	defer tx.Close()
	if created {
		fmt.Fprintf(os.Stderr, "Created node identity: %s\n", tx.ID.String())
	}

	var buf [frame.MaxFrameLen + 1]byte
	var ws [secure.EncodeValveScratch]byte
	var h frame.Header

	var n int
	if beacon {
		n = secure.EncodeSecureBeacon(buf[:], &h, scratch.New(ws[:]), tx, idLen, secure.GCMEncrypt)
	} else {
		pc := frame.ValvePercentNone
		if percent >= 0 && percent <= 100 {
			pc = byte(percent)
		}
		n = secure.EncodeValveFrame(buf[:], &h, scratch.New(ws[:]), tx, idLen, pc, stats, secure.GCMEncrypt)
	}
	if n == 0 {
		return nil, fmt.Errorf("frame encoding failed")
	}
	return buf[:n], nil
}

func encodeCmd() *cobra.Command {
	var dataDir, keyHex, stats string
	var percent, idLen int
	var beacon bool

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a secure frame",
		Long: `Build one secure frame as a node would, drawing a fresh message
counter from the persistent state in the data directory. The frame is
printed as hex.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFrame(dataDir, keyHex, beacon, percent, stats, idLen)
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(f))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./node-data", "Directory for node identity and counter state")
	cmd.Flags().StringVar(&keyHex, "key", "", "Node key (32 hex chars, prompted if empty)")
	cmd.Flags().IntVar(&percent, "percent", -1, "Valve opening 0-100 (-1 for no report)")
	cmd.Flags().StringVar(&stats, "stats", "", `Sensor stats JSON object, e.g. {"t|C16":293}`)
	cmd.Flags().IntVar(&idLen, "id-len", 4, "Node ID prefix bytes on the wire (0-6)")
	cmd.Flags().BoolVar(&beacon, "beacon", false, "Build a bodyless presence beacon instead")

	return cmd
}

func sendCmd() *cobra.Command {
	var dataDir, keyHex, stats, hubURL string
	var percent, idLen int
	var beacon bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Build a secure frame and send it to a hub",
		Long:  "Build one secure frame and deliver it over the gateway WebSocket protocol.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFrame(dataDir, keyHex, beacon, percent, stats, idLen)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			conn, _, err := websocket.Dial(ctx, hubURL, &websocket.DialOptions{
				Subprotocols: []string{hub.Subprotocol},
			})
			if err != nil {
				return fmt.Errorf("failed to connect to hub: %w", err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			if err := conn.Write(ctx, websocket.MessageBinary, f); err != nil {
				return fmt.Errorf("failed to send frame: %w", err)
			}

			fmt.Printf("Sent %d-byte frame to %s\n", len(f), hubURL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./node-data", "Directory for node identity and counter state")
	cmd.Flags().StringVar(&keyHex, "key", "", "Node key (32 hex chars, prompted if empty)")
	cmd.Flags().IntVar(&percent, "percent", -1, "Valve opening 0-100 (-1 for no report)")
	cmd.Flags().StringVar(&stats, "stats", "", "Sensor stats JSON object")
	cmd.Flags().IntVar(&idLen, "id-len", 4, "Node ID prefix bytes on the wire (0-6)")
	cmd.Flags().BoolVar(&beacon, "beacon", false, "Send a bodyless presence beacon instead")
	cmd.Flags().StringVar(&hubURL, "hub", "ws://127.0.0.1:8880/ingest", "Hub ingest URL")

	return cmd
}

func decodeCmd() *cobra.Command {
	var keyHex, nodeIDHex string

	cmd := &cobra.Command{
		Use:   "decode <frame-hex>",
		Short: "Decode and verify a secure frame",
		Long: `Decode one secure frame offline. The full node ID and key must be
supplied; no counter state is consulted or committed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("invalid frame hex: %w", err)
			}
			id, err := identity.ParseNodeID(nodeIDHex)
			if err != nil {
				return err
			}
			keyBytes, err := readKey(keyHex)
			if err != nil {
				return err
			}
			var key [secure.KeySize]byte
			copy(key[:], keyBytes)
			secure.ZeroBytes(keyBytes)
			defer secure.ZeroKey(&key)

			var h frame.Header
			if h.Decode(buf) == 0 || !h.IsSecure() {
				return fmt.Errorf("not a valid secure frame")
			}
			if !id.HasPrefix(h.ID[:h.IDLen()]) {
				return fmt.Errorf("frame ID prefix does not match --node-id")
			}

			ctr, ok := secure.TrailerCounter(buf, &h)
			if !ok {
				return fmt.Errorf("frame trailer is malformed")
			}
			iv, ok := msgctr.IVForTX(id.Bytes(), &ctr)
			if !ok {
				return fmt.Errorf("frame counter is invalid")
			}

			var ws [secure.DecodeScratch]byte
			var body [secure.MaxDataSize]byte
			total, bodyLen := secure.DecodeRaw(buf, &h, scratch.New(ws[:]), &iv, &key, secure.GCMDecrypt, body[:])
			if total == 0 {
				return fmt.Errorf("authentication failed")
			}

			fmt.Printf("Type:    %s\n", frame.TypeName(h.Type))
			fmt.Printf("Seq:     %d\n", h.Seq())
			fmt.Printf("Counter: %s\n", hex.EncodeToString(ctr[:]))
			fmt.Printf("Length:  %d bytes\n", total)
			if bodyLen > 0 {
				fmt.Printf("Body:    %s\n", hex.EncodeToString(body[:bodyLen]))
				if h.Type&0x7f == frame.TypeValve {
					vb, err := frame.ParseValveBody(body[:bodyLen])
					if err == nil {
						if vb.ValvePercent == frame.ValvePercentNone {
							fmt.Println("Valve:   no report")
						} else {
							fmt.Printf("Valve:   %d%%\n", vb.ValvePercent)
						}
						if vb.Stats != "" {
							fmt.Printf("Stats:   %s\n", vb.Stats)
						}
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyHex, "key", "", "Node key (32 hex chars, prompted if empty)")
	cmd.Flags().StringVar(&nodeIDHex, "node-id", "", "Full node ID (16 hex chars)")
	cmd.MarkFlagRequired("node-id")

	return cmd
}
