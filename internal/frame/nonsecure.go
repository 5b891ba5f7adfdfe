package frame

// EncodeNonsecure builds a complete non-secure frame in buf: header,
// plaintext body and 1-byte CRC trailer. It returns the total frame
// size including the leading length byte, or 0 on failure.
func EncodeNonsecure(buf []byte, h *Header, ftype byte, seq byte, id []byte, body []byte) int {
	hl := h.Encode(buf, false, ftype, seq, id, len(body), NonsecureTrailerLen)
	if hl == 0 {
		return 0
	}

	total := h.TotalLen()
	if len(buf) < total {
		h.Invalidate()
		return 0
	}

	copy(buf[hl:], body)
	fl := int(h.FrameLen)
	buf[fl] = ComputeCRC(buf, fl)

	return total
}

// DecodeNonsecure parses and verifies a complete non-secure frame from
// buf, leaving the parsed header in h. The body remains in place at
// buf[h.BodyOffset():h.TrailerOffset()]. It returns the total frame
// size consumed, or 0 on failure.
func DecodeNonsecure(h *Header, buf []byte) int {
	hl := h.Decode(buf)
	if hl == 0 {
		return 0
	}
	if h.IsSecure() {
		h.Invalidate()
		return 0
	}

	total := h.TotalLen()
	if len(buf) < total {
		h.Invalidate()
		return 0
	}

	fl := int(h.FrameLen)
	if buf[fl] != ComputeCRC(buf, fl) {
		h.Invalidate()
		return 0
	}

	return total
}

// EncodeAliveBeacon builds a minimal bodyless '!' presence frame.
// It returns the total frame size, or 0 on failure.
func EncodeAliveBeacon(buf []byte, seq byte, id []byte) int {
	var h Header
	return EncodeNonsecure(buf, &h, TypeAlive, seq, id, nil)
}
