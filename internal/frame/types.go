// Package frame implements the small-frame wire format used on the
// low-power radio link between leaf nodes and gateways.
//
// A frame is at most 64 bytes on the wire:
//
//	Length   [1 byte]  - fl, count of bytes following this one
//	Type     [1 byte]  - frame type, top bit set for secure frames
//	SeqIL    [1 byte]  - sequence number (high nibble) and ID length (low nibble)
//	ID       [0-8]     - leading prefix of the sender's node ID
//	BodyLen  [1 byte]  - bl, body length
//	Body     [bl]      - plaintext or ciphertext body
//	Trailer  [1+]      - integrity/authentication trailer
package frame

// Frame type constants. The type byte carries the secure flag in its
// top bit; the values below are the flag-stripped 7-bit types.
const (
	// TypeNone is never valid on the wire.
	TypeNone byte = 0

	// TypeAlive is a frequent presence beacon, usually bodyless ('!').
	TypeAlive byte = 0x21

	// TypeValve carries valve position and sensor stats ('O').
	TypeValve byte = 0x4f

	// TypeInvalidHigh is the top of the 7-bit range and never valid.
	TypeInvalidHigh byte = 0x7f

	// SecureFlag marks a frame whose body is authenticated and encrypted.
	SecureFlag byte = 0x80
)

// Wire format limits.
const (
	// MaxFrameLen is the largest permitted value of the leading length
	// byte; the whole frame is at most MaxFrameLen+1 bytes.
	MaxFrameLen = 63

	// MaxIDLength is the largest node ID prefix carried in a header.
	MaxIDLength = 8

	// MinFrameLen is the smallest valid length byte: type, seq/il and
	// body-length bytes plus a 1-byte trailer.
	MinFrameLen = 4

	// NonsecureTrailerLen is the length of the CRC trailer on
	// non-secure frames.
	NonsecureTrailerLen = 1
)

// TypeName returns a human-readable name for a frame type byte
// (secure flag stripped).
func TypeName(t byte) string {
	switch t & 0x7f {
	case TypeAlive:
		return "ALIVE"
	case TypeValve:
		return "VALVE"
	case TypeNone:
		return "NONE"
	case TypeInvalidHigh:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}
