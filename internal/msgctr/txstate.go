package msgctr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sensegrid/sensegrid/internal/frame"
)

// The transmit counter is split in two halves:
//
//	restart counter  [3 bytes] - persisted, bumped on every boot and
//	                             whenever the ephemeral half wraps
//	ephemeral part   [3 bytes] - in memory only, starts at zero
//
// Because the restart counter moves forward before any frame is sent,
// a crash or power loss can never cause a counter value to be reused,
// even though the ephemeral half is lost.

const (
	// txStateFileName is the name of the restart counter file in the
	// data directory.
	txStateFileName = "tx_counter"

	// restartCounterMax is the largest 24-bit restart counter value.
	restartCounterMax = 0xffffff

	// ephemeralMax is the largest 24-bit ephemeral value.
	ephemeralMax = 0xffffff
)

// TXState owns the transmit message counter for this node.
// It is safe for concurrent use.
type TXState struct {
	mu        sync.Mutex
	path      string
	restart   uint32 // 24-bit persisted prefix
	ephemeral uint32 // 24-bit volatile suffix
	exhausted bool
}

// OpenTXState loads the persisted restart counter from dataDir, bumps
// it, and writes it back before returning. A missing state file starts
// the counter at zero; a corrupted one falls back to whichever of the
// two stored copies still verifies, or to zero when both are damaged.
func OpenTXState(dataDir string) (*TXState, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &TXState{path: filepath.Join(dataDir, txStateFileName)}

	restart, err := s.loadRestart()
	if err != nil {
		return nil, err
	}
	if restart >= restartCounterMax {
		return nil, ErrCounterExhausted
	}

	// Bump before first use so counters from the previous run can
	// never be emitted again.
	s.restart = restart + 1
	if err := s.storeRestart(); err != nil {
		return nil, err
	}

	return s, nil
}

// NextCounter returns the next transmit counter value. Counter values
// are strictly increasing across calls and across restarts. Once the
// counter space is exhausted every further call fails with
// ErrCounterExhausted.
func (s *TXState) NextCounter() (ctr [Len]byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted {
		return ctr, ErrCounterExhausted
	}

	if s.ephemeral >= ephemeralMax {
		// Ephemeral half wrapped: move to the next restart prefix.
		if s.restart >= restartCounterMax {
			s.exhausted = true
			return ctr, ErrCounterExhausted
		}
		s.restart++
		if err := s.storeRestart(); err != nil {
			return ctr, err
		}
		s.ephemeral = 0
	}
	s.ephemeral++

	ctr[0] = byte(s.restart >> 16)
	ctr[1] = byte(s.restart >> 8)
	ctr[2] = byte(s.restart)
	ctr[3] = byte(s.ephemeral >> 16)
	ctr[4] = byte(s.ephemeral >> 8)
	ctr[5] = byte(s.ephemeral)
	return ctr, nil
}

// RestartCounter returns the current persisted restart counter value.
func (s *TXState) RestartCounter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restart
}

// State file format: two independent copies of the 3-byte restart
// counter, each followed by a CRC-7/5B check byte over those 3 bytes.
// Either copy alone is enough to recover the counter.
const txStateFileSize = 8

func (s *TXState) loadRestart() (uint32, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read tx counter state: %w", err)
	}

	if len(data) == txStateFileSize {
		if v, ok := verifyCopy(data[0:4]); ok {
			return v, nil
		}
		if v, ok := verifyCopy(data[4:8]); ok {
			return v, nil
		}
	}

	// Both copies damaged, or the file is the wrong size. Reinitialize;
	// the caller bumps the counter before any frame is sent.
	return 0, nil
}

func (s *TXState) storeRestart() error {
	var data [txStateFileSize]byte
	writeCopy(data[0:4], s.restart)
	writeCopy(data[4:8], s.restart)

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data[:], 0600); err != nil {
		return fmt.Errorf("failed to write tx counter state: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to persist tx counter state: %w", err)
	}
	return nil
}

func verifyCopy(b []byte) (uint32, bool) {
	crc := frame.CRCInitial
	for _, c := range b[:3] {
		crc = frame.CRC7_5BUpdate(crc, c)
	}
	if crc == 0 {
		crc = 0x80
	}
	if b[3] != crc {
		return 0, false
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), true
}

func writeCopy(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
	crc := frame.CRCInitial
	for _, c := range b[:3] {
		crc = frame.CRC7_5BUpdate(crc, c)
	}
	if crc == 0 {
		crc = 0x80
	}
	b[3] = crc
}
