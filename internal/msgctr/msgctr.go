// Package msgctr implements the 6-byte big-endian message counter used
// to build AES-GCM IVs and to reject replayed frames. A counter value
// must never repeat for a given node ID and key; the transmit side
// guarantees that with a persistent restart counter prefix that
// survives reboots and state loss.
package msgctr

import (
	"bytes"
	"errors"
)

// Len is the wire size of a message counter in bytes.
const Len = 6

// ErrCounterExhausted is returned when the persistent counter space is
// used up. The node must be re-keyed before it may transmit again.
var ErrCounterExhausted = errors.New("message counter exhausted")

// Cmp compares two 6-byte counters, returning -1, 0 or 1. Counters are
// big-endian, so plain lexicographic byte order is numeric order. Bytes
// beyond Len are ignored; a truncated counter sorts before any full one
// sharing its prefix.
func Cmp(a, b []byte) int {
	if len(a) > Len {
		a = a[:Len]
	}
	if len(b) > Len {
		b = b[:Len]
	}
	return bytes.Compare(a, b)
}

// Add adds delta to the counter in place. A delta of 0 is a no-op that
// succeeds. If the addition would wrap the whole 6-byte space the
// counter is left unchanged and Add returns false: a counter at its
// maximum is permanently exhausted, never recycled.
func Add(c []byte, delta byte) bool {
	if len(c) != Len {
		return false
	}
	if delta == 0 {
		return true
	}

	sum := uint16(c[Len-1]) + uint16(delta)
	if sum <= 0xff {
		c[Len-1] = byte(sum)
		return true
	}

	// Carry needed: refuse if every upper byte is already 0xff,
	// leaving the counter untouched.
	for i := 0; i < Len-1; i++ {
		if c[i] != 0xff {
			c[Len-1] = byte(sum)
			for j := Len - 2; j >= 0; j-- {
				c[j]++
				if c[j] != 0 {
					break
				}
			}
			return true
		}
	}
	return false
}

// IVForTX assembles the 12-byte AES-GCM IV from the first 6 bytes of
// the sender's node ID and a 6-byte message counter. ok is false when
// id is shorter than 6 bytes.
func IVForTX(id []byte, ctr *[Len]byte) (iv [12]byte, ok bool) {
	if len(id) < 6 {
		return iv, false
	}
	copy(iv[:6], id[:6])
	copy(iv[6:], ctr[:])
	return iv, true
}
