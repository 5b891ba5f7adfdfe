// Package assoc maintains the receive-side association table: the set
// of node IDs we accept secure frames from, each with the highest
// message counter seen so far. The table is what turns "the frame
// authenticated" into "the frame is fresh": a frame whose counter does
// not strictly exceed the stored value is a replay and must be dropped.
package assoc

import (
	"errors"
	"sync"

	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/msgctr"
)

var (
	// ErrNotAssociated is returned when no stored node ID matches.
	ErrNotAssociated = errors.New("node not associated")

	// ErrCounterNotAdvanced is returned by UpdateCounter when the new
	// counter does not strictly exceed the stored one.
	ErrCounterNotAdvanced = errors.New("message counter did not advance")
)

// Store is the association table consulted on every secure frame.
//
// UpdateCounter is a compare-and-set: it commits the new counter only
// if it is strictly greater than the stored one, atomically with
// respect to concurrent callers, so two gateways replaying the same
// frame cannot both win.
type Store interface {
	// ResolveByPrefix returns the first associated node whose ID
	// starts with prefix. An empty prefix matches the first node.
	ResolveByPrefix(prefix []byte) (identity.NodeID, bool)

	// LastCounter returns the highest committed counter for id.
	LastCounter(id identity.NodeID) ([msgctr.Len]byte, bool)

	// UpdateCounter commits ctr for id if it strictly exceeds the
	// stored counter.
	UpdateCounter(id identity.NodeID, ctr [msgctr.Len]byte) error

	// Associate adds or resets a node with the given initial counter.
	Associate(id identity.NodeID, initial [msgctr.Len]byte) error
}

type memoryEntry struct {
	id  identity.NodeID
	ctr [msgctr.Len]byte
}

// Memory is an in-memory Store for single-process hubs and tests.
// Prefix resolution scans nodes in association order, so the first
// node associated wins when a short prefix is ambiguous.
type Memory struct {
	mu      sync.Mutex
	entries []memoryEntry
	index   map[identity.NodeID]int
}

// NewMemory creates an empty in-memory association table.
func NewMemory() *Memory {
	return &Memory{index: make(map[identity.NodeID]int)}
}

// ResolveByPrefix implements Store.
func (m *Memory) ResolveByPrefix(prefix []byte) (identity.NodeID, bool) {
	if len(prefix) > identity.IDSize {
		return identity.ZeroID, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.id.HasPrefix(prefix) {
			return e.id, true
		}
	}
	return identity.ZeroID, false
}

// LastCounter implements Store.
func (m *Memory) LastCounter(id identity.NodeID) ([msgctr.Len]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return [msgctr.Len]byte{}, false
	}
	return m.entries[i].ctr, true
}

// UpdateCounter implements Store.
func (m *Memory) UpdateCounter(id identity.NodeID, ctr [msgctr.Len]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return ErrNotAssociated
	}
	if msgctr.Cmp(ctr[:], m.entries[i].ctr[:]) <= 0 {
		return ErrCounterNotAdvanced
	}
	m.entries[i].ctr = ctr
	return nil
}

// Associate implements Store.
func (m *Memory) Associate(id identity.NodeID, initial [msgctr.Len]byte) error {
	if id.IsZero() {
		return errors.New("cannot associate zero node ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[id]; ok {
		m.entries[i].ctr = initial
		return nil
	}
	m.index[id] = len(m.entries)
	m.entries = append(m.entries, memoryEntry{id: id, ctr: initial})
	return nil
}
