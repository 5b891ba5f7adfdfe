package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusConfig configures the metrics/health HTTP server.
type StatusConfig struct {
	// Address to listen on (e.g., ":9090")
	Address string

	// Gatherer for /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes
	WriteTimeout time.Duration
}

// StatusServer exposes health, node state and Prometheus metrics.
type StatusServer struct {
	cfg      StatusConfig
	hub      *Hub
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewStatusServer creates a status server for h.
func NewStatusServer(cfg StatusConfig, h *Hub) *StatusServer {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &StatusServer{
		cfg: cfg,
		hub: h,
	}

	var metricsHandler http.Handler
	if cfg.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.Handle("/metrics", metricsHandler)

	// pprof debug endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the status server.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the status server.
func (s *StatusServer) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *StatusServer) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *StatusServer) IsRunning() bool {
	return s.running.Load()
}

// handleHealth handles the basic health check endpoint.
func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

// handleHealthz returns hub counters as JSON.
func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.hub.Stats()
	response := map[string]interface{}{
		"status":          "healthy",
		"frames_ingested": stats.FramesIngested,
		"frames_accepted": stats.FramesAccepted,
		"frames_rejected": stats.FramesRejected,
		"bytes_ingested":  stats.BytesIngested,
		"nodes_tracked":   stats.NodesTracked,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleNodes returns the last known state of every node.
func (s *StatusServer) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.hub.Nodes())
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *StatusServer) Handler() http.Handler {
	return s.server.Handler
}
