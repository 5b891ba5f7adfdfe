// Package keys manages the pre-shared AES-128 keys for leaf nodes.
// Keys are provisioned out of band: either listed per node, or derived
// on demand from a shared master key with HKDF-SHA256 so a hub config
// only has to carry one secret. Nothing is ever negotiated on air.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/secure"
)

const (
	// MasterKeySize is the size of the pre-shared master key.
	MasterKeySize = 32

	// hkdfInfo is the context string for per-node key derivation.
	hkdfInfo = "sensegrid-node-key-v1"
)

var (
	// ErrBadKeyLength is returned for hex key material of the wrong size.
	ErrBadKeyLength = errors.New("invalid key length")

	// ErrClosed is returned after the registry's material was zeroed.
	ErrClosed = errors.New("key registry closed")
)

// Registry resolves the AES key for a node ID. It is safe for
// concurrent use. Close zeroes all key material.
type Registry struct {
	mu     sync.Mutex
	static map[identity.NodeID]*[secure.KeySize]byte
	master []byte // nil when not in master mode
	// derived caches master-mode keys so the hot path pays HKDF once
	// per node.
	derived map[identity.NodeID]*[secure.KeySize]byte
	closed  bool
}

// NewRegistry creates an empty registry holding only per-node keys.
func NewRegistry() *Registry {
	return &Registry{
		static:  make(map[identity.NodeID]*[secure.KeySize]byte),
		derived: make(map[identity.NodeID]*[secure.KeySize]byte),
	}
}

// NewMasterRegistry creates a registry that derives per-node keys from
// masterHex, a 64-char hex string. Per-node keys added with AddHex
// take precedence over derivation.
func NewMasterRegistry(masterHex string) (*Registry, error) {
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyLength, err)
	}
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrBadKeyLength, len(master), MasterKeySize)
	}
	r := NewRegistry()
	r.master = master
	return r, nil
}

// AddHex registers a fixed key for a node from a 32-char hex string.
func (r *Registry) AddHex(id identity.NodeID, keyHex string) error {
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKeyLength, err)
	}
	if len(b) != secure.KeySize {
		secure.ZeroBytes(b)
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrBadKeyLength, len(b), secure.KeySize)
	}

	var key [secure.KeySize]byte
	copy(key[:], b)
	secure.ZeroBytes(b)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		secure.ZeroKey(&key)
		return ErrClosed
	}
	r.static[id] = &key
	return nil
}

// Lookup returns the key for id. The returned pointer stays owned by
// the registry and is valid until Close. It satisfies secure.KeyLookup.
func (r *Registry) Lookup(id identity.NodeID) (*[secure.KeySize]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}

	if k, ok := r.static[id]; ok {
		return k, true
	}
	if r.master == nil {
		return nil, false
	}
	if k, ok := r.derived[id]; ok {
		return k, true
	}

	k, err := deriveNodeKey(r.master, id)
	if err != nil {
		return nil, false
	}
	r.derived[id] = k
	return k, true
}

// Close zeroes all key material. Further lookups fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, k := range r.static {
		secure.ZeroKey(k)
	}
	for _, k := range r.derived {
		secure.ZeroKey(k)
	}
	secure.ZeroBytes(r.master)
	r.static = nil
	r.derived = nil
	r.master = nil
}

// deriveNodeKey computes HKDF-SHA256(master, salt=node ID) truncated
// to the AES-128 key size.
func deriveNodeKey(master []byte, id identity.NodeID) (*[secure.KeySize]byte, error) {
	var key [secure.KeySize]byte
	reader := hkdf.New(sha256.New, master, id.Bytes(), []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return &key, nil
}
