// Package scratch provides caller-owned working memory for the frame
// codec. Operations declare how many scratch bytes they need; callers
// hand in a single buffer and the codec carves per-step sub-buffers
// from it, so nothing on the hot receive path allocates.
package scratch

// Space is a view over a caller-supplied buffer.
type Space struct {
	buf []byte
}

// New wraps buf as scratch space.
func New(buf []byte) Space {
	return Space{buf: buf}
}

// Len returns the number of bytes available.
func (s Space) Len() int { return len(s.buf) }

// Bytes returns the underlying buffer.
func (s Space) Bytes() []byte { return s.buf }

// Carve splits off the first n bytes and returns them alongside the
// remaining space. ok is false when fewer than n bytes are available;
// the caller must treat that as a hard failure of the operation.
func (s Space) Carve(n int) (sub []byte, rest Space, ok bool) {
	if n < 0 || n > len(s.buf) {
		return nil, Space{}, false
	}
	return s.buf[:n], Space{buf: s.buf[n:]}, true
}
