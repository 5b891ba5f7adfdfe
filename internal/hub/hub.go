// Package hub implements the receive side of a sensegrid deployment.
// Gateways forward raw radio frames over WebSocket; the hub
// authenticates them against the association table, tracks per-node
// state and exports metrics.
package hub

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/sensegrid/sensegrid/internal/assoc"
	"github.com/sensegrid/sensegrid/internal/frame"
	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/logging"
	"github.com/sensegrid/sensegrid/internal/metrics"
	"github.com/sensegrid/sensegrid/internal/scratch"
	"github.com/sensegrid/sensegrid/internal/secure"
)

// Options configures a Hub.
type Options struct {
	Store   assoc.Store
	Keys    secure.KeyLookup
	Decrypt secure.DecryptFunc // defaults to secure.GCMDecrypt
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RejectLogPerSec and RejectLogBurst rate-limit rejection log lines
	// so a frame flood cannot saturate the log output. Rejections are
	// always counted in metrics regardless.
	RejectLogPerSec float64
	RejectLogBurst  int
}

// Hub authenticates frames forwarded by gateways and tracks the last
// known state of every node. It is safe for concurrent use.
type Hub struct {
	store   assoc.Store
	keys    secure.KeyLookup
	decrypt secure.DecryptFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	rejectLog *rate.Limiter

	mu       sync.Mutex
	nodes    map[identity.NodeID]*nodeState
	ingested uint64
	accepted uint64
	rejected uint64
	bytes    uint64
}

type nodeState struct {
	lastSeen     time.Time
	frames       uint64
	valvePercent int // -1 until a valve frame reports one
	stats        string
}

// New creates a Hub. Store and Keys are required; everything else has
// a usable default.
func New(opts Options) *Hub {
	if opts.Decrypt == nil {
		opts.Decrypt = secure.GCMDecrypt
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	if opts.RejectLogPerSec <= 0 {
		opts.RejectLogPerSec = 5
	}
	if opts.RejectLogBurst < 1 {
		opts.RejectLogBurst = 10
	}

	return &Hub{
		store:     opts.Store,
		keys:      opts.Keys,
		decrypt:   opts.Decrypt,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		rejectLog: rate.NewLimiter(rate.Limit(opts.RejectLogPerSec), opts.RejectLogBurst),
		nodes:     make(map[identity.NodeID]*nodeState),
	}
}

// HandleFrame processes one raw frame forwarded by a gateway. Errors
// are absorbed: a bad frame is counted and logged, never fatal.
func (h *Hub) HandleFrame(gateway string, buf []byte) {
	h.metrics.RecordFrameIngested(len(buf))
	h.mu.Lock()
	h.ingested++
	h.bytes += uint64(len(buf))
	h.mu.Unlock()

	var ws [secure.DecodeScratch]byte
	var body [secure.MaxDataSize]byte
	res, err := secure.Decode(buf, scratch.New(ws[:]), h.store, h.keys, h.decrypt, body[:])
	if err == nil {
		h.accept(gateway, res, body[:res.BodyLen])
		return
	}

	// Not everything on the link is secure: presence beacons from
	// unprovisioned nodes carry only a CRC trailer.
	if errors.Is(err, secure.ErrMalformed) {
		var fh frame.Header
		if frame.DecodeNonsecure(&fh, buf) != 0 {
			h.acceptPlain(gateway, &fh)
			return
		}
	}

	h.reject(gateway, buf, err)
}

// accept records an authenticated frame and updates node state.
func (h *Hub) accept(gateway string, res *secure.RXResult, body []byte) {
	typeName := strings.ToLower(frame.TypeName(res.Header.Type))
	now := time.Now()

	h.metrics.RecordFrameAccepted(typeName)
	h.metrics.RecordCounterCommit()
	h.metrics.RecordNodeSeen(res.Sender.String(), float64(now.Unix()))

	h.mu.Lock()
	h.accepted++
	st, ok := h.nodes[res.Sender]
	if !ok {
		st = &nodeState{valvePercent: -1}
		h.nodes[res.Sender] = st
		h.metrics.SetNodesTracked(len(h.nodes))
	}
	st.lastSeen = now
	st.frames++

	var vb frame.ValveBody
	var vbErr error
	if res.Header.Type&0x7f == frame.TypeValve && len(body) > 0 {
		vb, vbErr = frame.ParseValveBody(body)
		if vbErr == nil {
			if vb.ValvePercent != frame.ValvePercentNone {
				st.valvePercent = int(vb.ValvePercent)
			}
			st.stats = vb.Stats
		}
	}
	h.mu.Unlock()

	if vbErr == nil && vb.ValvePercent != frame.ValvePercentNone && res.Header.Type&0x7f == frame.TypeValve {
		h.metrics.RecordValvePercent(res.Sender.String(), int(vb.ValvePercent))
	}

	h.logger.Debug("frame accepted",
		logging.KeyGateway, gateway,
		logging.KeyNodeID, res.Sender.String(),
		logging.KeyFrameType, typeName,
		logging.KeyCounter, hex.EncodeToString(res.Counter[:]),
		logging.KeyFrameLen, res.Total,
	)
	if vbErr != nil {
		h.logger.Warn("valve body unparseable",
			logging.KeyNodeID, res.Sender.String(),
			logging.KeyError, vbErr.Error(),
		)
	}
}

// acceptPlain records a CRC-only frame. These are unauthenticated, so
// they never touch counters or valve state.
func (h *Hub) acceptPlain(gateway string, fh *frame.Header) {
	typeName := "plain_" + strings.ToLower(frame.TypeName(fh.Type))
	h.metrics.RecordFrameAccepted(typeName)

	h.mu.Lock()
	h.accepted++
	h.mu.Unlock()

	h.logger.Debug("plain frame",
		logging.KeyGateway, gateway,
		logging.KeyNodeID, hex.EncodeToString(fh.ID[:fh.IDLen()]),
		logging.KeyFrameType, typeName,
	)
}

// reject counts and rate-limit-logs a bad frame.
func (h *Hub) reject(gateway string, buf []byte, err error) {
	reason := rejectReason(err)
	h.metrics.RecordFrameRejected(reason)
	if errors.Is(err, secure.ErrReplay) {
		h.metrics.RecordCounterConflict()
	}

	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()

	if h.rejectLog.Allow() {
		h.logger.Warn("frame rejected",
			logging.KeyGateway, gateway,
			logging.KeyReason, reason,
			logging.KeyFrameLen, len(buf),
			logging.KeyError, err.Error(),
		)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, secure.ErrUnknownNode):
		return metrics.ReasonUnknownNode
	case errors.Is(err, secure.ErrReplay):
		return metrics.ReasonReplay
	case errors.Is(err, secure.ErrNoKey):
		return metrics.ReasonNoKey
	case errors.Is(err, secure.ErrAuthFailed):
		return metrics.ReasonAuthFailed
	default:
		return metrics.ReasonMalformed
	}
}

// Stats contains hub-wide frame counters.
type Stats struct {
	FramesIngested uint64 `json:"frames_ingested"`
	FramesAccepted uint64 `json:"frames_accepted"`
	FramesRejected uint64 `json:"frames_rejected"`
	BytesIngested  uint64 `json:"bytes_ingested"`
	NodesTracked   int    `json:"nodes_tracked"`
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		FramesIngested: h.ingested,
		FramesAccepted: h.accepted,
		FramesRejected: h.rejected,
		BytesIngested:  h.bytes,
		NodesTracked:   len(h.nodes),
	}
}

// NodeStatus is the last known state of one node.
type NodeStatus struct {
	ID           string    `json:"id"`
	LastSeen     time.Time `json:"last_seen"`
	Frames       uint64    `json:"frames"`
	ValvePercent int       `json:"valve_percent"` // -1 when never reported
	Stats        string    `json:"stats,omitempty"`
}

// Nodes returns the tracked nodes sorted by ID.
func (h *Hub) Nodes() []NodeStatus {
	h.mu.Lock()
	out := make([]NodeStatus, 0, len(h.nodes))
	for id, st := range h.nodes {
		out = append(out, NodeStatus{
			ID:           id.String(),
			LastSeen:     st.lastSeen,
			Frames:       st.frames,
			ValvePercent: st.valvePercent,
			Stats:        st.stats,
		})
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunStatusLogger periodically logs a one-line traffic summary until
// ctx is canceled.
func (h *Hub) RunStatusLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := h.Stats()
			h.logger.Info("hub status",
				"frames", humanize.Comma(int64(s.FramesIngested)),
				"accepted", humanize.Comma(int64(s.FramesAccepted)),
				"rejected", humanize.Comma(int64(s.FramesRejected)),
				"traffic", humanize.Bytes(s.BytesIngested),
				"nodes", s.NodesTracked,
			)
		}
	}
}
