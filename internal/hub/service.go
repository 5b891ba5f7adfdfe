package hub

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sensegrid/sensegrid/internal/assoc"
	"github.com/sensegrid/sensegrid/internal/config"
	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/keys"
	"github.com/sensegrid/sensegrid/internal/logging"
	"github.com/sensegrid/sensegrid/internal/msgctr"
)

// Service assembles a complete hub from its configuration: association
// store, key registry, frame processor and the two HTTP servers.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	hub      *Hub
	store    assoc.Store
	registry *keys.Registry
	ingest   *IngestServer
	status   *StatusServer

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewService builds a Service from cfg. The config must already be
// validated.
func NewService(cfg *config.Config) (*Service, error) {
	logger := logging.NewLogger(cfg.Hub.LogLevel, cfg.Hub.LogFormat)

	if err := os.MkdirAll(cfg.Hub.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := openRegistry(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	if err := provisionNodes(cfg, store, registry); err != nil {
		registry.Close()
		closeStore(store)
		return nil, err
	}

	h := New(Options{
		Store:           store,
		Keys:            registry.Lookup,
		Logger:          logger,
		RejectLogPerSec: cfg.Limits.RejectLogPerSec,
		RejectLogBurst:  cfg.Limits.RejectLogBurst,
	})

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		hub:      h,
		store:    store,
		registry: registry,
	}

	if cfg.Ingest.Enabled {
		s.ingest = NewIngestServer(IngestConfig{
			Address:     cfg.Ingest.Address,
			Path:        cfg.Ingest.Path,
			MaxGateways: cfg.Ingest.MaxGateways,
			ReadTimeout: cfg.Ingest.ReadTimeout,
		}, h)
	}
	if cfg.Metrics.Enabled {
		s.status = NewStatusServer(StatusConfig{
			Address: cfg.Metrics.Address,
		}, h)
	}

	return s, nil
}

func openStore(cfg *config.Config) (assoc.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		if dir := filepath.Dir(cfg.Store.Path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		return assoc.OpenSQLite(cfg.Store.Path)
	default:
		return assoc.NewMemory(), nil
	}
}

func closeStore(store assoc.Store) {
	if c, ok := store.(io.Closer); ok {
		c.Close()
	}
}

func openRegistry(cfg *config.Config) (*keys.Registry, error) {
	if cfg.Keys.MasterKey != "" {
		return keys.NewMasterRegistry(cfg.Keys.MasterKey)
	}
	return keys.NewRegistry(), nil
}

// provisionNodes seeds the store and registry from the node list. An
// already-associated node keeps its committed counter: re-running with
// the same config must not reopen the replay window.
func provisionNodes(cfg *config.Config, store assoc.Store, registry *keys.Registry) error {
	for i, n := range cfg.Nodes {
		id, err := identity.ParseNodeID(n.ID)
		if err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}

		if n.Key != "" {
			if err := registry.AddHex(id, n.Key); err != nil {
				return fmt.Errorf("nodes[%d]: %w", i, err)
			}
		}

		var initial [msgctr.Len]byte
		if n.Counter != "" {
			b, err := hex.DecodeString(n.Counter)
			if err != nil || len(b) != msgctr.Len {
				return fmt.Errorf("nodes[%d]: invalid counter", i)
			}
			copy(initial[:], b)
		}

		if _, ok := store.LastCounter(id); !ok {
			if err := store.Associate(id, initial); err != nil {
				return fmt.Errorf("nodes[%d]: %w", i, err)
			}
			continue
		}

		// Known node: only move the counter forward, never back.
		if n.Counter != "" {
			if err := store.UpdateCounter(id, initial); err != nil &&
				!errors.Is(err, assoc.ErrCounterNotAdvanced) {
				return fmt.Errorf("nodes[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// Start starts the configured servers and the status logger.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("service already running")
	}

	if s.ingest != nil {
		if err := s.ingest.Start(); err != nil {
			return err
		}
	}
	if s.status != nil {
		if err := s.status.Start(); err != nil {
			if s.ingest != nil {
				s.ingest.Stop()
			}
			return err
		}
		s.logger.Info("metrics listening", logging.KeyAddress, s.status.Address().String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.RunStatusLogger(ctx, s.cfg.Limits.StatusInterval)
	}()

	s.running = true
	return nil
}

// Stop shuts everything down and zeroes key material.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	s.cancel()

	var firstErr error
	if s.ingest != nil {
		if err := s.ingest.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.status != nil {
		if err := s.status.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}

	s.registry.Close()
	closeStore(s.store)
	return firstErr
}

// Hub returns the frame processor.
func (s *Service) Hub() *Hub {
	return s.hub
}

// IngestAddress returns the bound ingest address, or "" when disabled.
func (s *Service) IngestAddress() string {
	if s.ingest == nil {
		return ""
	}
	return s.ingest.Address()
}

// StatusAddress returns the bound metrics address, or "" when disabled.
func (s *Service) StatusAddress() string {
	if s.status == nil || s.status.Address() == nil {
		return ""
	}
	return s.status.Address().String()
}
