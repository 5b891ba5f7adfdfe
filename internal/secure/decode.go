package secure

import (
	"github.com/sensegrid/sensegrid/internal/frame"
	"github.com/sensegrid/sensegrid/internal/msgctr"
	"github.com/sensegrid/sensegrid/internal/scratch"
)

// DecodeRaw authenticates and decrypts a secure frame whose header has
// already been decoded into h and whose IV the caller has assembled
// from the resolved sender ID and the trailer counter. On success the
// unpadded plaintext (if any) is copied into bodyOut and DecodeRaw
// returns the total frame size alongside the plaintext length; on any
// failure both are 0 and nothing is written to bodyOut.
//
// DecodeRaw performs no replay checking; callers go through Decode,
// which validates the counter against the association table before any
// cryptography runs.
func DecodeRaw(buf []byte, h *frame.Header, sp scratch.Space, iv *[IVSize]byte, key *[KeySize]byte, dec DecryptFunc, bodyOut []byte) (int, int) {
	if !h.IsValid() || !h.IsSecure() || iv == nil || dec == nil {
		return 0, 0
	}
	if h.TrailerLen() != TrailerSize {
		return 0, 0
	}
	bl := int(h.BodyLen)
	if bl != 0 && bl != BodySize {
		return 0, 0
	}
	total := h.TotalLen()
	if len(buf) < total {
		return 0, 0
	}
	fl := int(h.FrameLen)
	if buf[fl] != FormatAESGCM {
		return 0, 0
	}
	// The header sequence number must be the low nibble of the
	// counter, which sits in the last IV byte.
	if h.Seq() != iv[IVSize-1]&0xf {
		return 0, 0
	}

	ptBuf, rest, ok := sp.Carve(BodySize)
	if !ok {
		return 0, 0
	}
	ws, _, ok := rest.Carve(GCMDecryptScratch)
	if !ok {
		return 0, 0
	}

	hl := h.HeaderLen()
	to := h.TrailerOffset()
	tag := (*[TagSize]byte)(buf[to+msgctr.Len : to+msgctr.Len+TagSize])

	var ct, pt *[BodySize]byte
	if bl == BodySize {
		ct = (*[BodySize]byte)(buf[hl : hl+BodySize])
		pt = (*[BodySize]byte)(ptBuf)
	}

	if !dec(ws, key, iv, buf[:hl], ct, tag, pt) {
		return 0, 0
	}

	bodyLen := 0
	if bl == BodySize {
		defer ZeroBytes(ptBuf)
		n, ok := Unpad32(ptBuf)
		if !ok {
			return 0, 0
		}
		if len(bodyOut) < n {
			return 0, 0
		}
		copy(bodyOut, ptBuf[:n])
		bodyLen = n
	}

	return total, bodyLen
}

// TrailerCounter extracts the 6-byte message counter from a decoded
// secure frame header's trailer.
func TrailerCounter(buf []byte, h *frame.Header) (ctr [msgctr.Len]byte, ok bool) {
	if !h.IsValid() || !h.IsSecure() || h.TrailerLen() != TrailerSize {
		return ctr, false
	}
	to := h.TrailerOffset()
	if len(buf) < to+msgctr.Len {
		return ctr, false
	}
	copy(ctr[:], buf[to:to+msgctr.Len])
	return ctr, true
}
