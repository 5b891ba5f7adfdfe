package secure

import (
	"errors"

	"github.com/sensegrid/sensegrid/internal/assoc"
	"github.com/sensegrid/sensegrid/internal/frame"
	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/msgctr"
	"github.com/sensegrid/sensegrid/internal/scratch"
)

var (
	// ErrMalformed is returned when the frame fails header or trailer
	// integrity checks.
	ErrMalformed = errors.New("malformed secure frame")

	// ErrUnknownNode is returned when no associated node matches the
	// frame's ID prefix.
	ErrUnknownNode = errors.New("unknown sender node")

	// ErrReplay is returned when the frame's counter does not strictly
	// exceed the last committed counter for the sender.
	ErrReplay = errors.New("message counter replayed")

	// ErrNoKey is returned when no key is provisioned for the sender.
	ErrNoKey = errors.New("no key for sender node")

	// ErrAuthFailed is returned when decryption or tag verification
	// fails.
	ErrAuthFailed = errors.New("frame authentication failed")
)

// KeyLookup resolves the AES key for a node. The returned pointer
// stays owned by the lookup; callers must not retain it.
type KeyLookup func(id identity.NodeID) (*[KeySize]byte, bool)

// RXResult describes a successfully received secure frame.
type RXResult struct {
	Header  frame.Header
	Sender  identity.NodeID
	Counter [msgctr.Len]byte
	BodyLen int // plaintext bytes written to bodyOut
	Total   int // frame bytes consumed from the buffer
}

// Decode runs the full receive path for one secure frame:
//
//  1. header integrity checks
//  2. sender resolution from the ID prefix via the association table
//  3. replay check of the trailer counter, before any decryption
//  4. authenticated decryption
//  5. counter commit, only after authentication succeeded
//
// The order matters twice over: checking the counter first means a
// flood of replayed frames costs no AES work, and committing it last
// means a frame that fails authentication cannot advance the counter
// and block the legitimate one.
//
// The plaintext body, if any, is copied into bodyOut (MaxDataSize
// bytes is always enough). sp must offer at least DecodeScratch bytes.
func Decode(buf []byte, sp scratch.Space, store assoc.Store, keys KeyLookup, dec DecryptFunc, bodyOut []byte) (*RXResult, error) {
	var h frame.Header
	if h.Decode(buf) == 0 {
		return nil, ErrMalformed
	}
	if !h.IsSecure() || h.TrailerLen() != TrailerSize {
		return nil, ErrMalformed
	}
	if len(buf) < h.TotalLen() {
		return nil, ErrMalformed
	}

	sender, ok := store.ResolveByPrefix(h.ID[:h.IDLen()])
	if !ok {
		return nil, ErrUnknownNode
	}

	ctr, ok := TrailerCounter(buf, &h)
	if !ok {
		return nil, ErrMalformed
	}

	last, ok := store.LastCounter(sender)
	if !ok {
		return nil, ErrUnknownNode
	}
	if msgctr.Cmp(ctr[:], last[:]) <= 0 {
		return nil, ErrReplay
	}

	key, ok := keys(sender)
	if !ok {
		return nil, ErrNoKey
	}

	iv, ok := msgctr.IVForTX(sender.Bytes(), &ctr)
	if !ok {
		return nil, ErrMalformed
	}

	total, bodyLen := DecodeRaw(buf, &h, sp, &iv, key, dec, bodyOut)
	if total == 0 {
		return nil, ErrAuthFailed
	}

	// Commit only now: the frame proved it came from the key holder.
	// A concurrent delivery of the same frame loses the compare-and-
	// set and is reported as a replay.
	if err := store.UpdateCounter(sender, ctr); err != nil {
		if errors.Is(err, assoc.ErrCounterNotAdvanced) {
			return nil, ErrReplay
		}
		return nil, err
	}

	return &RXResult{
		Header:  h,
		Sender:  sender,
		Counter: ctr,
		BodyLen: bodyLen,
		Total:   total,
	}, nil
}
