package frame

import (
	"bytes"
	"testing"
)

// Known-good non-secure 'O' frame: 2-byte ID 80 81, 2-byte body 00 01.
var nonsecureValveFrame = []byte{0x08, 0x4f, 0x02, 0x80, 0x81, 0x02, 0x00, 0x01, 0x23}

// Known-good bodyless alive beacons.
var (
	beaconNoID     = []byte{0x04, 0x21, 0x00, 0x00, 0x65}
	beaconFullID   = []byte{0x0c, 0x21, 0x48, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x29}
	beaconFullSeq  = byte(4)
	beaconFullIDv  = make([]byte, 8)
	secureValveHdr = []byte{0x3e, 0xcf, 0x94, 0xaa, 0xaa, 0xaa, 0xaa, 0x20}
)

func TestCRC7_5B(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"valve frame", nonsecureValveFrame[:8], 0x23},
		{"minimal beacon", beaconNoID[:4], 0x65},
		{"full-ID beacon", beaconFullID[:12], 0x29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCRC(tt.data, len(tt.data))
			if got != tt.want {
				t.Errorf("ComputeCRC() = 0x%02x, want 0x%02x", got, tt.want)
			}
		})
	}
}

func TestComputeCRC_ZeroSubstitution(t *testing.T) {
	// Whatever the input, the trailer byte must never be 0x00.
	buf := make([]byte, 8)
	for b := 0; b < 256; b++ {
		buf[1] = byte(b)
		if ComputeCRC(buf, len(buf)) == 0 {
			t.Fatalf("ComputeCRC() produced reserved value 0x00 for input %x", buf)
		}
	}
}

func TestHeader_Decode(t *testing.T) {
	var h Header
	n := h.Decode(nonsecureValveFrame)
	if n != 6 {
		t.Fatalf("Decode() = %d, want 6", n)
	}

	if !h.IsValid() {
		t.Error("IsValid() = false after successful decode")
	}
	if h.IsSecure() {
		t.Error("IsSecure() = true for non-secure frame")
	}
	if h.Type != TypeValve {
		t.Errorf("Type = 0x%02x, want 0x%02x", h.Type, TypeValve)
	}
	if h.Seq() != 0 {
		t.Errorf("Seq() = %d, want 0", h.Seq())
	}
	if h.IDLen() != 2 {
		t.Errorf("IDLen() = %d, want 2", h.IDLen())
	}
	if !bytes.Equal(h.ID[:2], []byte{0x80, 0x81}) {
		t.Errorf("ID = %x, want 8081", h.ID[:2])
	}
	if h.BodyLen != 2 {
		t.Errorf("BodyLen = %d, want 2", h.BodyLen)
	}
	if h.BodyOffset() != 6 {
		t.Errorf("BodyOffset() = %d, want 6", h.BodyOffset())
	}
	if h.TrailerOffset() != 8 {
		t.Errorf("TrailerOffset() = %d, want 8", h.TrailerOffset())
	}
	if h.TrailerLen() != 1 {
		t.Errorf("TrailerLen() = %d, want 1", h.TrailerLen())
	}
	if h.TotalLen() != 9 {
		t.Errorf("TotalLen() = %d, want 9", h.TotalLen())
	}
}

func TestHeader_Decode_SecureHeader(t *testing.T) {
	// Header-only buffer for a 63-byte secure frame; trailer byte
	// checks are skipped when the rest of the frame is absent.
	var h Header
	n := h.Decode(secureValveHdr)
	if n != 8 {
		t.Fatalf("Decode() = %d, want 8", n)
	}
	if !h.IsSecure() {
		t.Error("IsSecure() = false for secure frame")
	}
	if h.Type&0x7f != TypeValve {
		t.Errorf("Type = 0x%02x, want secure 'O'", h.Type)
	}
	if h.Seq() != 9 {
		t.Errorf("Seq() = %d, want 9", h.Seq())
	}
	if h.IDLen() != 4 {
		t.Errorf("IDLen() = %d, want 4", h.IDLen())
	}
	if h.BodyLen != 32 {
		t.Errorf("BodyLen = %d, want 32", h.BodyLen)
	}
	if h.TrailerLen() != 23 {
		t.Errorf("TrailerLen() = %d, want 23", h.TrailerLen())
	}
}

func TestHeader_Decode_Rejections(t *testing.T) {
	valid := nonsecureValveFrame

	corrupt := func(i int, b byte) []byte {
		c := append([]byte(nil), valid...)
		c[i] = b
		return c
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"nil buffer", nil},
		{"short buffer", valid[:3]},
		{"buffer below minimum frame", valid[:4]},
		{"header truncated", valid[:5]},
		{"frame length below minimum", corrupt(0, 0x03)},
		{"frame length above maximum", corrupt(0, 0xc8)},
		{"type none", corrupt(1, 0x00)},
		{"type invalid high", corrupt(1, 0x7f)},
		{"secure type none", corrupt(1, 0x80)},
		{"ID length exceeds max", corrupt(2, 0x09)},
		{"ID length exceeds frame", corrupt(2, 0x05)},
		{"body length exceeds frame", corrupt(5, 0x03)},
		{"trailer byte zero", corrupt(8, 0x00)},
		{"trailer byte all-ones", corrupt(8, 0xff)},
		{"body overruns trailer", corrupt(5, 0x04)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Header
			if n := h.Decode(tt.buf); n != 0 {
				t.Errorf("Decode() = %d, want 0", n)
			}
			if h.IsValid() {
				t.Error("IsValid() = true after failed decode")
			}
		})
	}
}

func TestHeader_Decode_FullSecureFrame(t *testing.T) {
	// Full 63-byte secure frame. Its trailer starts with the counter,
	// whose leading bytes are 0x00 until the node has sent ~2^40
	// frames; only the final format byte is subject to the reserved
	// value check.
	f := make([]byte, 63)
	copy(f, secureValveHdr)
	f[62] = 0x80

	var h Header
	if n := h.Decode(f); n != 8 {
		t.Fatalf("Decode() = %d, want 8", n)
	}

	f[62] = 0x00
	if n := h.Decode(f); n != 0 {
		t.Errorf("Decode() = %d for erased final byte, want 0", n)
	}
}

func TestHeader_Decode_TrailerLengthRules(t *testing.T) {
	// Non-secure frames must carry exactly a 1-byte trailer; secure
	// frames anything >= 1. Build a frame claiming a 2-byte trailer.
	buf := []byte{0x05, 0x4f, 0x00, 0x00, 0x11, 0x22}
	var h Header
	if n := h.Decode(buf); n != 0 {
		t.Errorf("Decode() accepted non-secure frame with 2-byte trailer")
	}

	buf[1] = TypeValve | SecureFlag
	if n := h.Decode(buf); n != 4 {
		t.Errorf("Decode() = %d for secure frame with 2-byte trailer, want 4", n)
	}
}

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		secure     bool
		ftype      byte
		seq        byte
		id         []byte
		bodyLen    int
		trailerLen int
		wantHL     int
	}{
		{"bodyless beacon", false, TypeAlive, 0, nil, 0, 1, 4},
		{"valve with 2-byte ID", false, TypeValve, 0, []byte{0x80, 0x81}, 2, 1, 6},
		{"secure valve", true, TypeValve, 9, []byte{0xaa, 0xaa, 0xaa, 0xaa}, 32, 23, 8},
		{"secure full ID", true, TypeValve, 15, bytes.Repeat([]byte{0x55}, 8), 0, 23, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			var h Header
			n := h.Encode(buf, tt.secure, tt.ftype, tt.seq, tt.id, tt.bodyLen, tt.trailerLen)
			if n != tt.wantHL {
				t.Fatalf("Encode() = %d, want %d", n, tt.wantHL)
			}

			// Avoid the reserved values in the frame's final byte
			// for re-decode.
			buf[h.TotalLen()-1] = 0x80

			var h2 Header
			if n2 := h2.Decode(buf); n2 != n {
				t.Fatalf("Decode() = %d, want %d", n2, n)
			}
			if h2.IsSecure() != tt.secure {
				t.Errorf("IsSecure() = %v, want %v", h2.IsSecure(), tt.secure)
			}
			if h2.Seq() != tt.seq {
				t.Errorf("Seq() = %d, want %d", h2.Seq(), tt.seq)
			}
			if h2.IDLen() != len(tt.id) {
				t.Errorf("IDLen() = %d, want %d", h2.IDLen(), len(tt.id))
			}
			if int(h2.BodyLen) != tt.bodyLen {
				t.Errorf("BodyLen = %d, want %d", h2.BodyLen, tt.bodyLen)
			}
			if h2.TrailerLen() != tt.trailerLen {
				t.Errorf("TrailerLen() = %d, want %d", h2.TrailerLen(), tt.trailerLen)
			}
		})
	}
}

func TestHeader_Encode_Rejections(t *testing.T) {
	buf := make([]byte, 64)

	tests := []struct {
		name       string
		buf        []byte
		secure     bool
		ftype      byte
		seq        byte
		id         []byte
		bodyLen    int
		trailerLen int
	}{
		{"nil buffer", nil, false, TypeAlive, 0, nil, 0, 1},
		{"type none", buf, false, TypeNone, 0, nil, 0, 1},
		{"type invalid high", buf, false, TypeInvalidHigh, 0, nil, 0, 1},
		{"sequence overflow", buf, false, TypeAlive, 16, nil, 0, 1},
		{"ID too long", buf, false, TypeAlive, 0, make([]byte, 9), 0, 1},
		{"frame too large", buf, true, TypeValve, 0, make([]byte, 8), 33, 23},
		{"zero trailer", buf, true, TypeValve, 0, nil, 0, 0},
		{"non-secure trailer not CRC sized", buf, false, TypeValve, 0, nil, 0, 2},
		{"buffer smaller than header", buf[:5], false, TypeValve, 0, []byte{1, 2, 3}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Header
			if n := h.Encode(tt.buf, tt.secure, tt.ftype, tt.seq, tt.id, tt.bodyLen, tt.trailerLen); n != 0 {
				t.Errorf("Encode() = %d, want 0", n)
			}
			if h.IsValid() {
				t.Error("IsValid() = true after failed encode")
			}
		})
	}
}

func TestEncodeAliveBeacon_Vectors(t *testing.T) {
	t.Run("no ID", func(t *testing.T) {
		buf := make([]byte, 64)
		n := EncodeAliveBeacon(buf, 0, nil)
		if n != len(beaconNoID) {
			t.Fatalf("EncodeAliveBeacon() = %d, want %d", n, len(beaconNoID))
		}
		if !bytes.Equal(buf[:n], beaconNoID) {
			t.Errorf("frame = %x, want %x", buf[:n], beaconNoID)
		}
	})

	t.Run("full ID", func(t *testing.T) {
		buf := make([]byte, 64)
		n := EncodeAliveBeacon(buf, beaconFullSeq, beaconFullIDv)
		if n != len(beaconFullID) {
			t.Fatalf("EncodeAliveBeacon() = %d, want %d", n, len(beaconFullID))
		}
		if !bytes.Equal(buf[:n], beaconFullID) {
			t.Errorf("frame = %x, want %x", buf[:n], beaconFullID)
		}
	})
}

func TestNonsecureRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	body := []byte{0x00, 0x01}
	var h Header
	n := EncodeNonsecure(buf, &h, TypeValve, 0, []byte{0x80, 0x81}, body)
	if n != len(nonsecureValveFrame) {
		t.Fatalf("EncodeNonsecure() = %d, want %d", n, len(nonsecureValveFrame))
	}
	if !bytes.Equal(buf[:n], nonsecureValveFrame) {
		t.Fatalf("frame = %x, want %x", buf[:n], nonsecureValveFrame)
	}

	var h2 Header
	if n2 := DecodeNonsecure(&h2, buf[:n]); n2 != n {
		t.Fatalf("DecodeNonsecure() = %d, want %d", n2, n)
	}
	if !bytes.Equal(buf[h2.BodyOffset():h2.TrailerOffset()], body) {
		t.Errorf("body = %x, want %x", buf[h2.BodyOffset():h2.TrailerOffset()], body)
	}
}

func TestDecodeNonsecure_BadCRC(t *testing.T) {
	c := append([]byte(nil), nonsecureValveFrame...)
	c[7] ^= 0x01 // flip a body bit

	var h Header
	if n := DecodeNonsecure(&h, c); n != 0 {
		t.Errorf("DecodeNonsecure() = %d for corrupted frame, want 0", n)
	}
	if h.IsValid() {
		t.Error("IsValid() = true after CRC failure")
	}
}

func TestDecodeNonsecure_RejectsSecureFrame(t *testing.T) {
	buf := make([]byte, 64)
	var h Header
	n := h.Encode(buf, true, TypeValve, 0, nil, 0, 23)
	if n == 0 {
		t.Fatal("Encode() failed")
	}
	buf[h.TrailerOffset()] = 0x01

	var h2 Header
	if n2 := DecodeNonsecure(&h2, buf[:h.TotalLen()]); n2 != 0 {
		t.Errorf("DecodeNonsecure() = %d for secure frame, want 0", n2)
	}
}

func TestValveBody_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body ValveBody
		want int
	}{
		{"percent only", ValveBody{ValvePercent: 42}, 2},
		{"no valve", ValveBody{ValvePercent: ValvePercentNone}, 2},
		{"with stats", ValveBody{ValvePercent: 0, Stats: `{"b|%":17,"T|C16":321}`}, 2 + 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 32)
			n := tt.body.Encode(buf)
			if n != tt.want {
				t.Fatalf("Encode() = %d, want %d", n, tt.want)
			}

			parsed, err := ParseValveBody(buf[:n])
			if err != nil {
				t.Fatalf("ParseValveBody() error = %v", err)
			}
			if parsed.ValvePercent != tt.body.ValvePercent {
				t.Errorf("ValvePercent = %d, want %d", parsed.ValvePercent, tt.body.ValvePercent)
			}
			if parsed.Stats != tt.body.Stats {
				t.Errorf("Stats = %q, want %q", parsed.Stats, tt.body.Stats)
			}
		})
	}
}

func TestValveBody_Encode_ClampsPercent(t *testing.T) {
	buf := make([]byte, 4)
	v := ValveBody{ValvePercent: 101}
	if n := v.Encode(buf); n != 2 {
		t.Fatalf("Encode() = %d, want 2", n)
	}
	if buf[0] != ValvePercentNone {
		t.Errorf("percent byte = 0x%02x, want 0x%02x", buf[0], ValvePercentNone)
	}
}

func TestValveBody_Encode_BadStats(t *testing.T) {
	buf := make([]byte, 32)
	v := ValveBody{Stats: `not json`}
	if n := v.Encode(buf); n != 0 {
		t.Errorf("Encode() = %d for malformed stats, want 0", n)
	}
}

func TestParseValveBody_Errors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x00}},
		{"percent out of range", []byte{0x65, 0x00}},
		{"stats flag without object", []byte{0x00, FlagStatsPresent}},
		{"stats not JSON", []byte{0x00, FlagStatsPresent, 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseValveBody(tt.body); err == nil {
				t.Error("ParseValveBody() error = nil, want error")
			}
		})
	}
}
