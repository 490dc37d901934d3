// Package crypto implements the two envelope primitives consumed by the
// PORT and TYPHOON wire protocols: a symmetric AEAD envelope and a hybrid
// asymmetric envelope built on top of it (§4.1).
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SymmetricKeySize is the size, in bytes, of a derived session key.
	SymmetricKeySize = 32

	nonceSize = chacha20poly1305.NonceSizeX
	macSize   = 16

	// SymmetricOverhead is the number of bytes a symmetric envelope adds
	// to its plaintext: a 16-byte Poly1305 tag and a 24-byte nonce.
	SymmetricOverhead = macSize + nonceSize
)

// Symmetric wraps an XChaCha20-Poly1305 key and seals/opens byte strings
// with a fresh random nonce per call, per §4.1.
type Symmetric struct {
	key [SymmetricKeySize]byte
}

// NewSymmetric derives a Symmetric cipher from an existing 32-byte key, as
// used for the per-session key established by the handshake.
func NewSymmetric(key []byte) (*Symmetric, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("crypto: symmetric key must be %d bytes, got %d", SymmetricKeySize, len(key))
	}
	s := &Symmetric{}
	copy(s.key[:], key)
	return s, nil
}

// GenerateSymmetric creates a Symmetric cipher with a freshly random key.
func GenerateSymmetric() (*Symmetric, error) {
	var key [SymmetricKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("crypto: generating symmetric key: %w", err)
	}
	return &Symmetric{key: key}, nil
}

// Key returns the raw key bytes backing this cipher.
func (s *Symmetric) Key() []byte {
	out := make([]byte, SymmetricKeySize)
	copy(out, s.key[:])
	return out
}

// Seal encrypts plaintext and returns ciphertext||mac||nonce, optionally
// authenticating (but not encrypting) ad. The nonce is fresh random on
// every call.
func (s *Symmetric) Seal(plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: building AEAD: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, ad)
	out := make([]byte, 0, len(sealed)+nonceSize)
	out = append(out, sealed...)
	out = append(out, nonce...)
	return out, nil
}

// Open reverses Seal: it expects ciphertext||mac||nonce and the same ad
// used at seal time.
func (s *Symmetric) Open(sealed, ad []byte) ([]byte, error) {
	if len(sealed) < nonceSize+macSize {
		return nil, fmt.Errorf("crypto: sealed message too short: %d bytes", len(sealed))
	}
	nonce := sealed[len(sealed)-nonceSize:]
	ciphertext := sealed[:len(sealed)-nonceSize]

	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: building AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("crypto: AEAD authentication failed: %w", err)
	}
	return plaintext, nil
}
