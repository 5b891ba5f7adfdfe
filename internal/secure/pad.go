package secure

// Secure frame bodies are padded to exactly BodySize bytes so that the
// length on air reveals nothing about the payload. The final byte of
// the padded block holds the number of zero padding bytes before it.

// Pad32 writes data into dst padded to BodySize. data may hold at most
// MaxDataSize bytes. Returns BodySize, or 0 when data is too long or
// dst too small.
func Pad32(dst []byte, data []byte) int {
	if len(data) > MaxDataSize || len(dst) < BodySize {
		return 0
	}
	n := copy(dst, data)
	for i := n; i < BodySize-1; i++ {
		dst[i] = 0
	}
	dst[BodySize-1] = byte(MaxDataSize - n)
	return BodySize
}

// Unpad32 returns the payload length of a padded block. Only the
// padding count byte is validated; the padding bytes themselves are
// not inspected, since the whole block is covered by the GCM tag.
func Unpad32(buf []byte) (int, bool) {
	if len(buf) < BodySize {
		return 0, false
	}
	pad := int(buf[BodySize-1])
	if pad > MaxDataSize {
		return 0, false
	}
	return MaxDataSize - pad, true
}
