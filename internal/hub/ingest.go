package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/sensegrid/sensegrid/internal/frame"
	"github.com/sensegrid/sensegrid/internal/logging"
)

// Subprotocol is the WebSocket subprotocol gateways must negotiate.
// Each binary message carries exactly one raw frame.
const Subprotocol = "sensegrid"

// IngestConfig configures the gateway-facing frame listener.
type IngestConfig struct {
	// Address to listen on (e.g., ":8880")
	Address string

	// Path for WebSocket upgrade (default: "/ingest")
	Path string

	// MaxGateways limits concurrent gateway connections. Zero means
	// no limit.
	MaxGateways int

	// ReadTimeout is the longest a gateway may stay silent. Gateways
	// beacon frequently, so silence means a dead link.
	ReadTimeout time.Duration
}

// IngestServer accepts gateway WebSocket connections and feeds every
// received frame into the Hub.
type IngestServer struct {
	cfg    IngestConfig
	hub    *Hub
	server *http.Server

	// Actual listener address (set after binding)
	addr net.Addr

	gateways atomic.Int64
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewIngestServer creates an ingest server feeding h.
func NewIngestServer(cfg IngestConfig, h *Hub) *IngestServer {
	if cfg.Path == "" {
		cfg.Path = "/ingest"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	return &IngestServer{
		cfg: cfg,
		hub: h,
	}
}

// Start binds the listener and serves in the background.
func (s *IngestServer) Start() error {
	if s.running.Load() {
		return fmt.Errorf("ingest server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: mux,
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.addr = ln.Addr()
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.hub.logger.Error("ingest server failed", logging.KeyError, err.Error())
		}
	}()

	s.hub.logger.Info("ingest listening",
		logging.KeyAddress, s.addr.String(),
		"path", s.cfg.Path,
	)
	return nil
}

// Stop gracefully stops the server and waits for gateway handlers.
func (s *IngestServer) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)

	s.wg.Wait()
	return nil
}

// Address returns the actual listening address.
func (s *IngestServer) Address() string {
	if s.addr != nil {
		return s.addr.String()
	}
	return s.cfg.Address
}

// GatewayCount returns the number of connected gateways.
func (s *IngestServer) GatewayCount() int64 {
	return s.gateways.Load()
}

// IsRunning returns true if the server is running.
func (s *IngestServer) IsRunning() bool {
	return s.running.Load()
}

// handleWebSocket upgrades a gateway connection and pumps frames into
// the hub. It blocks for the lifetime of the connection: the
// nhooyr.io/websocket library expects the HTTP handler to stay active
// while the WebSocket is in use.
func (s *IngestServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxGateways > 0 && s.gateways.Load() >= int64(s.cfg.MaxGateways) {
		http.Error(w, "gateway limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return
	}

	// Reject clients that don't speak the expected protocol.
	if conn.Subprotocol() != Subprotocol {
		conn.Close(websocket.StatusProtocolError, "sensegrid subprotocol required")
		return
	}

	gateway := r.RemoteAddr
	s.gateways.Add(1)
	s.hub.metrics.RecordGatewayConnect()
	s.hub.logger.Info("gateway connected", logging.KeyRemoteAddr, gateway)

	s.wg.Add(1)
	defer s.wg.Done()
	defer s.gateways.Add(-1)

	reason := s.readFrames(r.Context(), conn, gateway)

	s.hub.metrics.RecordGatewayDisconnect(reason)
	s.hub.logger.Info("gateway disconnected",
		logging.KeyRemoteAddr, gateway,
		logging.KeyReason, reason,
	)
	conn.Close(websocket.StatusNormalClosure, "")
}

// readFrames reads binary messages until the connection dies and
// returns the disconnect reason.
func (s *IngestServer) readFrames(ctx context.Context, conn *websocket.Conn, gateway string) string {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		typ, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return "read_timeout"
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				return "closed"
			default:
				return "read_error"
			}
		}

		if typ != websocket.MessageBinary {
			conn.Close(websocket.StatusUnsupportedData, "binary frames required")
			return "bad_message_type"
		}
		if len(data) == 0 || len(data) > frame.MaxFrameLen+1 {
			conn.Close(websocket.StatusProtocolError, "frame size out of range")
			return "bad_frame_size"
		}

		s.hub.HandleFrame(gateway, data)
	}
}
