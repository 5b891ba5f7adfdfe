package secure

import (
	"github.com/sensegrid/sensegrid/internal/frame"
	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/msgctr"
	"github.com/sensegrid/sensegrid/internal/scratch"
)

// Scratch space each operation carves from the caller's buffer. Higher
// layers add their own use on top of what they delegate.
const (
	EncodeRawScratch   = GCMEncryptScratch
	DecodeRawScratch   = BodySize + GCMDecryptScratch
	EncodeScratch      = EncodeRawScratch
	EncodeValveScratch = BodySize + EncodeScratch
	DecodeScratch      = DecodeRawScratch
)

// EncodeRaw assembles a complete secure frame in buf from pre-padded
// material: header, encrypted body, and the counter/tag/format
// trailer. body must be empty or exactly BodySize bytes; the sequence
// number is taken from the low nibble of the IV's last counter byte.
// Returns the total frame size including the length byte, or 0 on any
// failure.
func EncodeRaw(buf []byte, h *frame.Header, sp scratch.Space, ftype byte, id []byte, body []byte, iv *[IVSize]byte, key *[KeySize]byte, enc EncryptFunc) int {
	if iv == nil || enc == nil {
		h.Invalidate()
		return 0
	}
	if len(body) != 0 && len(body) != BodySize {
		h.Invalidate()
		return 0
	}

	seq := iv[IVSize-1] & 0xf
	hl := h.Encode(buf, true, ftype, seq, id, len(body), TrailerSize)
	if hl == 0 {
		return 0
	}
	total := h.TotalLen()
	if len(buf) < total {
		h.Invalidate()
		return 0
	}

	ws, _, ok := sp.Carve(EncodeRawScratch)
	if !ok {
		h.Invalidate()
		return 0
	}

	var pt, ct *[BodySize]byte
	if len(body) == BodySize {
		pt = (*[BodySize]byte)(body)
		ct = (*[BodySize]byte)(buf[hl : hl+BodySize])
	}

	to := h.TrailerOffset()
	copy(buf[to:to+msgctr.Len], iv[6:]) // counter half of the IV
	tag := (*[TagSize]byte)(buf[to+msgctr.Len : to+msgctr.Len+TagSize])

	if !enc(ws, key, iv, buf[:hl], pt, ct, tag) {
		h.Invalidate()
		return 0
	}

	buf[int(h.FrameLen)] = FormatAESGCM
	return total
}

// TXContext holds everything a transmitting node needs to build secure
// frames: its full ID, the persistent counter state and its AES key.
type TXContext struct {
	ID    identity.NodeID
	State *msgctr.TXState
	Key   [KeySize]byte
}

// Close zeroes the key material.
func (tx *TXContext) Close() {
	ZeroKey(&tx.Key)
}

// NextIV draws a fresh counter and builds the transmit IV from it.
func (tx *TXContext) NextIV() ([IVSize]byte, error) {
	var iv [IVSize]byte
	ctr, err := tx.State.NextCounter()
	if err != nil {
		return iv, err
	}
	iv, _ = msgctr.IVForTX(tx.ID.Bytes(), &ctr)
	return iv, nil
}

// Encode builds a complete secure frame using a fresh counter from tx.
// idLen selects how many leading bytes of the node ID go on the wire;
// body must be nil or already padded to BodySize.
func Encode(buf []byte, h *frame.Header, sp scratch.Space, tx *TXContext, ftype byte, idLen int, body []byte, enc EncryptFunc) int {
	if tx == nil || idLen < 0 || idLen > identity.IDSize {
		h.Invalidate()
		return 0
	}
	iv, err := tx.NextIV()
	if err != nil {
		h.Invalidate()
		return 0
	}
	return EncodeRaw(buf, h, sp, ftype, tx.ID[:idLen], body, &iv, &tx.Key, enc)
}

// EncodeValveFrame builds a secure 'O' frame carrying a valve position
// and optional JSON stats. Leaf transmitters identify themselves by at
// most the 6 ID bytes that fit in the IV, so idLen above 6 is refused.
// Percentages above 100 are sent as "no report".
func EncodeValveFrame(buf []byte, h *frame.Header, sp scratch.Space, tx *TXContext, idLen int, valvePercent byte, stats string, enc EncryptFunc) int {
	if idLen > 6 {
		h.Invalidate()
		return 0
	}

	ptBuf, rest, ok := sp.Carve(BodySize)
	if !ok {
		h.Invalidate()
		return 0
	}
	defer ZeroBytes(ptBuf)

	body := frame.ValveBody{ValvePercent: valvePercent, Stats: stats}
	n := body.Encode(ptBuf[:MaxDataSize])
	if n == 0 {
		h.Invalidate()
		return 0
	}
	if Pad32(ptBuf, ptBuf[:n]) == 0 {
		h.Invalidate()
		return 0
	}

	return Encode(buf, h, rest, tx, frame.TypeValve, idLen, ptBuf, enc)
}

// EncodeSecureBeacon builds a bodyless secure '!' presence frame. Only
// the header is authenticated; there is no payload at all.
func EncodeSecureBeacon(buf []byte, h *frame.Header, sp scratch.Space, tx *TXContext, idLen int, enc EncryptFunc) int {
	return Encode(buf, h, sp, tx, frame.TypeAlive, idLen, nil, enc)
}
