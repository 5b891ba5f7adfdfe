package frame

import "errors"

var (
	// ErrInvalidFrame is returned by boundary layers when a frame fails
	// its integrity checks. The codec itself signals failure with a 0
	// return and an invalidated header.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrFrameTooSmall is returned when a buffer cannot hold the frame
	// it claims to contain.
	ErrFrameTooSmall = errors.New("frame buffer too small")
)

// Header is the parsed leading section of a small frame. FrameLen acts
// as the validity sentinel: a Header with FrameLen == 0 is invalid and
// none of its derived values may be used.
//
// All offsets are absolute indices into the frame buffer, counting the
// leading length byte itself.
type Header struct {
	FrameLen byte // fl; 0 means invalid
	Type     byte // frame type including the secure flag bit
	SeqIL    byte // sequence number high nibble, ID length low nibble
	ID       [MaxIDLength]byte
	BodyLen  byte
}

// IsValid reports whether the header passed its last encode or decode.
func (h *Header) IsValid() bool { return h.FrameLen != 0 }

// Invalidate marks the header unusable. Codec entry points call this
// first so a failed operation never leaves stale validity behind.
func (h *Header) Invalidate() { h.FrameLen = 0 }

// IsSecure reports whether the secure flag is set in the type byte.
func (h *Header) IsSecure() bool { return h.Type&SecureFlag != 0 }

// Seq returns the 4-bit sequence number.
func (h *Header) Seq() byte { return h.SeqIL >> 4 }

// IDLen returns the number of node ID prefix bytes in the header.
func (h *Header) IDLen() int { return int(h.SeqIL & 0xf) }

// HeaderLen returns the header length in bytes, including the leading
// length byte.
func (h *Header) HeaderLen() int { return 4 + h.IDLen() }

// BodyOffset returns the absolute offset of the body.
func (h *Header) BodyOffset() int { return h.HeaderLen() }

// TrailerOffset returns the absolute offset of the trailer.
func (h *Header) TrailerOffset() int { return h.HeaderLen() + int(h.BodyLen) }

// TrailerLen returns the trailer length implied by the frame length.
func (h *Header) TrailerLen() int { return int(h.FrameLen) + 1 - h.TrailerOffset() }

// TotalLen returns the whole frame size including the length byte.
func (h *Header) TotalLen() int { return int(h.FrameLen) + 1 }

// Encode validates the frame parameters and writes the header into buf.
// id supplies the node ID prefix (nil only when its length is zero) and
// trailerLen the length of the trailer the caller will append. It
// returns the number of header bytes written, including the leading
// length byte, or 0 if any integrity check fails.
//
// The checks run cheapest-first so a bad frame costs as little work as
// possible; the same order is used on decode.
func (h *Header) Encode(buf []byte, secure bool, ftype byte, seq byte, id []byte, bodyLen, trailerLen int) int {
	h.Invalidate()

	if buf == nil {
		return 0
	}
	ftype &= 0x7f
	if ftype == TypeNone || ftype == TypeInvalidHigh {
		return 0
	}
	if seq > 0xf {
		return 0
	}
	il := len(id)
	if il > MaxIDLength {
		return 0
	}
	if bodyLen < 0 || bodyLen > MaxFrameLen-MinFrameLen {
		return 0
	}
	if trailerLen < 1 {
		return 0
	}
	if !secure && trailerLen != NonsecureTrailerLen {
		return 0
	}

	fl := 3 + il + bodyLen + trailerLen
	if fl > MaxFrameLen {
		return 0
	}

	hl := 4 + il
	if len(buf) < hl {
		return 0
	}

	buf[0] = byte(fl)
	typeByte := ftype
	if secure {
		typeByte |= SecureFlag
	}
	buf[1] = typeByte
	buf[2] = seq<<4 | byte(il)
	copy(buf[3:3+il], id)
	buf[3+il] = byte(bodyLen)

	h.Type = typeByte
	h.SeqIL = buf[2]
	copy(h.ID[:], id)
	h.BodyLen = byte(bodyLen)
	h.FrameLen = byte(fl) // set last: validity sentinel

	return hl
}

// Decode parses and validates a frame header from buf. buf must start
// at the leading length byte but need not contain the whole frame; when
// it does, the final frame byte is additionally checked against the
// reserved values 0x00 and 0xff. It returns the header length consumed,
// including the leading length byte, or 0 if any integrity check fails.
func (h *Header) Decode(buf []byte) int {
	h.Invalidate()

	// The smallest valid frame is 5 bytes on the wire.
	if len(buf) < MinFrameLen+1 {
		return 0
	}
	fl := int(buf[0])
	if fl < MinFrameLen || fl > MaxFrameLen {
		return 0
	}

	typeByte := buf[1]
	ftype := typeByte & 0x7f
	if ftype == TypeNone || ftype == TypeInvalidHigh {
		return 0
	}

	seqIL := buf[2]
	il := int(seqIL & 0xf)
	if il > MaxIDLength {
		return 0
	}
	if il > fl-4 {
		return 0
	}

	hl := 4 + il
	if len(buf) < hl {
		return 0
	}

	bl := int(buf[hl-1])
	if bl > fl-hl {
		return 0
	}

	// When the whole frame is in the buffer, reject the two values
	// reserved for erased or unprogrammed storage in its final byte.
	if len(buf) > fl {
		tb := buf[fl]
		if tb == 0x00 || tb == 0xff {
			return 0
		}
	}

	tl := fl + 1 - hl - bl
	secure := typeByte&SecureFlag != 0
	if secure {
		if tl < 1 {
			return 0
		}
	} else {
		if tl != NonsecureTrailerLen {
			return 0
		}
	}

	h.Type = typeByte
	h.SeqIL = seqIL
	h.ID = [MaxIDLength]byte{}
	copy(h.ID[:], buf[3:3+il])
	h.BodyLen = byte(bl)
	h.FrameLen = byte(fl) // set last: validity sentinel

	return hl
}
