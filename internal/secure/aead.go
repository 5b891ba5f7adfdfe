// Package secure implements the authenticated secure frame variant:
// AES-128-GCM over the small-frame format, with fixed 32-byte padded
// bodies, a 23-byte trailer carrying the message counter and tag, and
// replay protection driven by the association table.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
)

const (
	// KeySize is the AES-128 key size in bytes.
	KeySize = 16

	// IVSize is the AES-GCM IV size in bytes: a 6-byte node ID prefix
	// followed by the 6-byte message counter.
	IVSize = 12

	// TagSize is the GCM authentication tag size in bytes.
	TagSize = 16

	// BodySize is the fixed padded body size. Every secure frame body
	// is either absent or exactly this long, so frame length leaks
	// nothing about the content.
	BodySize = 32

	// MaxDataSize is the largest payload Pad32 can fit: one byte of
	// the fixed body is reserved for the padding count.
	MaxDataSize = BodySize - 1

	// TrailerSize is the secure trailer length: 6-byte counter,
	// 16-byte tag and the format identification byte.
	TrailerSize = 6 + TagSize + 1

	// FormatAESGCM is the trailer format byte for AES-128-GCM with a
	// 16-byte tag. It is the last byte of every secure frame; 0x00 and
	// 0xff stay reserved for erased or unprogrammed storage.
	FormatAESGCM byte = 0x80
)

// EncryptFunc seals one fixed-size frame body. authtext is
// authenticated but not encrypted. plaintext may be nil for frames
// that authenticate the header alone; then ciphertext is ignored and
// only the tag is produced. workspace provides the scratch bytes the
// implementation needs (GCMEncryptScratch for the AES-GCM one) and is
// zeroed before return. Returns false on any failure.
type EncryptFunc func(workspace []byte, key *[KeySize]byte, iv *[IVSize]byte, authtext []byte, plaintext, ciphertext *[BodySize]byte, tag *[TagSize]byte) bool

// DecryptFunc opens one fixed-size frame body, the mirror of
// EncryptFunc. ciphertext may be nil to verify a bodyless frame.
// Returns false if authentication fails.
type DecryptFunc func(workspace []byte, key *[KeySize]byte, iv *[IVSize]byte, authtext []byte, ciphertext *[BodySize]byte, tag *[TagSize]byte, plaintext *[BodySize]byte) bool

// Scratch requirements of the AES-GCM implementations.
const (
	GCMEncryptScratch = BodySize + TagSize
	GCMDecryptScratch = BodySize + TagSize
)

// GCMEncrypt is the production EncryptFunc: AES-128-GCM via the
// standard library, allocation-free on the happy path.
func GCMEncrypt(workspace []byte, key *[KeySize]byte, iv *[IVSize]byte, authtext []byte, plaintext, ciphertext *[BodySize]byte, tag *[TagSize]byte) bool {
	if key == nil || iv == nil || tag == nil {
		return false
	}
	if len(workspace) < GCMEncryptScratch {
		return false
	}
	defer ZeroBytes(workspace[:GCMEncryptScratch])

	aead, err := newGCM(key)
	if err != nil {
		return false
	}

	if plaintext == nil {
		// Header-only frame: GCM over an empty plaintext yields just
		// the tag.
		out := aead.Seal(workspace[:0], iv[:], nil, authtext)
		copy(tag[:], out)
		return true
	}

	if ciphertext == nil {
		return false
	}
	out := aead.Seal(workspace[:0], iv[:], plaintext[:], authtext)
	copy(ciphertext[:], out[:BodySize])
	copy(tag[:], out[BodySize:])
	return true
}

// GCMDecrypt is the production DecryptFunc.
func GCMDecrypt(workspace []byte, key *[KeySize]byte, iv *[IVSize]byte, authtext []byte, ciphertext *[BodySize]byte, tag *[TagSize]byte, plaintext *[BodySize]byte) bool {
	if key == nil || iv == nil || tag == nil {
		return false
	}
	if len(workspace) < GCMDecryptScratch {
		return false
	}
	defer ZeroBytes(workspace[:GCMDecryptScratch])

	aead, err := newGCM(key)
	if err != nil {
		return false
	}

	if ciphertext == nil {
		// Verify the tag over the authtext alone.
		in := append(workspace[:0], tag[:]...)
		_, err := aead.Open(nil, iv[:], in, authtext)
		return err == nil
	}

	if plaintext == nil {
		return false
	}
	in := append(workspace[:0], ciphertext[:]...)
	in = append(in, tag[:]...)
	if _, err := aead.Open(plaintext[:0], iv[:], in, authtext); err != nil {
		return false
	}
	return true
}

func newGCM(key *[KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// NullEncrypt is a stand-in EncryptFunc for codec tests: it copies the
// plaintext through unchanged and writes a recognizable tag derived
// from the IV. It provides no security whatsoever.
func NullEncrypt(workspace []byte, key *[KeySize]byte, iv *[IVSize]byte, authtext []byte, plaintext, ciphertext *[BodySize]byte, tag *[TagSize]byte) bool {
	if iv == nil || tag == nil {
		return false
	}
	if plaintext != nil {
		if ciphertext == nil {
			return false
		}
		*ciphertext = *plaintext
	}
	copy(tag[:IVSize], iv[:])
	for i := IVSize; i < TagSize; i++ {
		tag[i] = 0
	}
	return true
}

// NullDecrypt is the stand-in DecryptFunc matching NullEncrypt. It
// performs only a token check of the tag against the IV.
func NullDecrypt(workspace []byte, key *[KeySize]byte, iv *[IVSize]byte, authtext []byte, ciphertext *[BodySize]byte, tag *[TagSize]byte, plaintext *[BodySize]byte) bool {
	if iv == nil || tag == nil {
		return false
	}
	if tag[0] != iv[0] || tag[TagSize-1] != 0 {
		return false
	}
	if ciphertext != nil {
		if plaintext == nil {
			return false
		}
		*plaintext = *ciphertext
	}
	return true
}

// ZeroBytes clears a byte slice so key or plaintext material does not
// linger in reusable scratch buffers.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey clears a key array.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
