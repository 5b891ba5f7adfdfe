// Package identity provides node identity management.
package identity

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// IDSize is the size of a NodeID in bytes (64 bits).
	IDSize = 8

	// idFileName is the name of the file storing the node ID
	idFileName = "node_id"
)

var (
	// ErrInvalidIDLength is returned when the ID length is incorrect
	ErrInvalidIDLength = errors.New("invalid node ID length: expected 8 bytes")

	// ErrInvalidHexString is returned when the hex string is malformed
	ErrInvalidHexString = errors.New("invalid hex string for node ID")

	// ZeroID represents an uninitialized node ID
	ZeroID = NodeID{}
)

// NodeID is the full 64-bit identifier of a leaf node. Frames on air carry
// only a leading prefix of it (0 to 8 bytes); the receive side resolves the
// prefix back to the full ID through its association table.
type NodeID [IDSize]byte

// NewNodeID generates a new random NodeID using crypto/rand.
// The first byte is forced non-zero so that even a 1-byte prefix
// is distinguishable from an absent ID.
func NewNodeID() (NodeID, error) {
	var id NodeID
	for {
		if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
			return ZeroID, fmt.Errorf("failed to generate node ID: %w", err)
		}
		if id[0] != 0 {
			return id, nil
		}
	}
}

// ParseNodeID parses a NodeID from a hex string.
func ParseNodeID(s string) (NodeID, error) {
	// Remove any whitespace and 0x prefix
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != IDSize*2 {
		return ZeroID, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidHexString, len(s), IDSize*2)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidHexString, err)
	}

	var id NodeID
	copy(id[:], b)
	return id, nil
}

// FromBytes creates a NodeID from a byte slice.
func FromBytes(b []byte) (NodeID, error) {
	if len(b) != IDSize {
		return ZeroID, fmt.Errorf("%w: got %d bytes", ErrInvalidIDLength, len(b))
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// String returns the full hex representation of the NodeID.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns a shortened hex representation (first 8 chars).
func (id NodeID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Bytes returns the NodeID as a byte slice.
func (id NodeID) Bytes() []byte {
	return id[:]
}

// IsZero returns true if the NodeID is uninitialized (all zeros).
func (id NodeID) IsZero() bool {
	return id == ZeroID
}

// Equal returns true if two NodeIDs are identical.
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// HasPrefix reports whether the leading bytes of the NodeID match prefix.
// An empty prefix matches every ID.
func (id NodeID) HasPrefix(prefix []byte) bool {
	if len(prefix) > IDSize {
		return false
	}
	return bytes.Equal(id[:len(prefix)], prefix)
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Store persists the NodeID to the specified data directory.
func (id NodeID) Store(dataDir string) error {
	if id.IsZero() {
		return errors.New("cannot store zero node ID")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	filePath := filepath.Join(dataDir, idFileName)

	// Write atomically by writing to temp file first
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(id.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write node ID: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath) // Clean up temp file
		return fmt.Errorf("failed to persist node ID: %w", err)
	}

	return nil
}

// Load reads a NodeID from the specified data directory.
func Load(dataDir string) (NodeID, error) {
	filePath := filepath.Join(dataDir, idFileName)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ZeroID, fmt.Errorf("node ID not found at %s", filePath)
		}
		return ZeroID, fmt.Errorf("failed to read node ID: %w", err)
	}

	return ParseNodeID(strings.TrimSpace(string(data)))
}

// LoadOrCreate loads an existing NodeID from the data directory,
// or creates and persists a new one if none exists.
func LoadOrCreate(dataDir string) (NodeID, bool, error) {
	id, err := Load(dataDir)
	if err == nil {
		return id, false, nil // Loaded existing ID
	}

	// Check if it's a "not found" error
	if !strings.Contains(err.Error(), "not found") {
		return ZeroID, false, err // Some other error
	}

	// Generate new ID
	id, err = NewNodeID()
	if err != nil {
		return ZeroID, false, err
	}

	// Persist it
	if err := id.Store(dataDir); err != nil {
		return ZeroID, false, err
	}

	return id, true, nil // Created new ID
}

// Exists checks if a NodeID file exists in the data directory.
func Exists(dataDir string) bool {
	filePath := filepath.Join(dataDir, idFileName)
	_, err := os.Stat(filePath)
	return err == nil
}
