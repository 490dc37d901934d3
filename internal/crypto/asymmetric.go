package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

const (
	// PublicKeySize is the size, in bytes, of an X25519 public point (and
	// of its Elligator-hidden representative).
	PublicKeySize = 32

	privateKeySize = 32

	// AsymmetricOverhead is the number of bytes an asymmetric envelope
	// adds to the plaintext: the symmetric envelope's own overhead plus
	// the hidden public key appended after the sealed bytes.
	AsymmetricOverhead = PublicKeySize + SymmetricOverhead

	maxHideAttempts = 64
)

// Asymmetric implements the hybrid X25519/Elligator2/BLAKE2b/XChaCha20-
// Poly1305 envelope described in §4.1. A listener-side instance holds both
// halves of a keypair; a client-side instance holds only the listener's
// public key.
type Asymmetric struct {
	private []byte // nil on the client side
	public  []byte
}

// NewAsymmetricFromSeed builds a listener-side Asymmetric from a 64-byte
// seed (private||public), as used when a listener's identity is persisted
// across restarts rather than freshly generated.
func NewAsymmetricFromSeed(seed []byte) (*Asymmetric, error) {
	if len(seed) != privateKeySize+PublicKeySize {
		return nil, fmt.Errorf("crypto: asymmetric seed must be %d bytes, got %d", privateKeySize+PublicKeySize, len(seed))
	}
	a := &Asymmetric{
		private: append([]byte(nil), seed[:privateKeySize]...),
		public:  append([]byte(nil), seed[privateKeySize:]...),
	}
	return a, nil
}

// GenerateAsymmetric creates a fresh listener-side keypair.
func GenerateAsymmetric() (*Asymmetric, error) {
	priv := make([]byte, privateKeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("crypto: generating private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: deriving public key: %w", err)
	}
	return &Asymmetric{private: priv, public: pub}, nil
}

// NewAsymmetricPeer builds a client-side Asymmetric holding only the
// listener's public key.
func NewAsymmetricPeer(peerPublic []byte) (*Asymmetric, error) {
	if len(peerPublic) != PublicKeySize {
		return nil, fmt.Errorf("crypto: peer public key must be %d bytes, got %d", PublicKeySize, len(peerPublic))
	}
	return &Asymmetric{public: append([]byte(nil), peerPublic...)}, nil
}

// ExportSeed returns the 64-byte private||public seed backing a
// listener-side Asymmetric, for persisting an identity across restarts
// or handing it to another package that needs to reconstruct the same
// keypair (e.g. a test driving both sides of a handshake).
func ExportSeed(a *Asymmetric) ([]byte, error) {
	if a.private == nil {
		return nil, fmt.Errorf("crypto: cannot export seed of a peer-only Asymmetric")
	}
	seed := make([]byte, 0, privateKeySize+PublicKeySize)
	seed = append(seed, a.private...)
	seed = append(seed, a.public...)
	return seed, nil
}

// PublicKey returns this side's own public key bytes.
func (a *Asymmetric) PublicKey() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, a.public)
	return out
}

func deriveSessionKey(shared, hiddenPub, peerPub []byte) ([]byte, error) {
	h, err := blake2b.New(SymmetricKeySize, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: building BLAKE2b: %w", err)
	}
	h.Write(shared)
	h.Write(hiddenPub)
	h.Write(peerPub)
	return h.Sum(nil), nil
}

// generateHideable produces an ephemeral X25519 keypair whose public point
// has an Elligator2 representative, retrying with fresh scalars for the
// (roughly) half of points that have none.
func generateHideable() (private, hidden []byte, err error) {
	for attempt := 0; attempt < maxHideAttempts; attempt++ {
		priv := make([]byte, privateKeySize)
		if _, err := rand.Read(priv); err != nil {
			return nil, nil, fmt.Errorf("crypto: generating ephemeral key: %w", err)
		}
		pub, err := curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			continue
		}
		tweak := priv[len(priv)-1]
		if rep, ok := elligatorRepresentative(pub, tweak); ok {
			return priv, rep, nil
		}
	}
	return nil, nil, fmt.Errorf("crypto: no Elligator-hideable key found after %d attempts", maxHideAttempts)
}

// Seal implements Asymmetric.seal from §4.1: it generates a fresh ephemeral
// keypair, computes the shared secret with this Asymmetric's public key,
// derives a session key, and returns (key, sealed||hiddenPub).
func (a *Asymmetric) Seal(plaintext []byte) (sessionKey, sealed []byte, err error) {
	ephemeralPriv, hiddenPub, err := generateHideable()
	if err != nil {
		return nil, nil, err
	}
	shared, err := curve25519.X25519(ephemeralPriv, a.public)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: computing shared secret: %w", err)
	}
	key, err := deriveSessionKey(shared, hiddenPub, a.public)
	if err != nil {
		return nil, nil, err
	}
	sym, err := NewSymmetric(key)
	if err != nil {
		return nil, nil, err
	}
	envelope, err := sym.Seal(plaintext, hiddenPub)
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, 0, len(envelope)+PublicKeySize)
	out = append(out, envelope...)
	out = append(out, hiddenPub...)
	return key, out, nil
}

// Open implements Asymmetric.decrypt from §4.1: ciphertext is expected to
// be sealed||hiddenPub. It recovers the session key and the plaintext.
func (a *Asymmetric) Open(ciphertext []byte) (sessionKey, plaintext []byte, err error) {
	if a.private == nil {
		return nil, nil, fmt.Errorf("crypto: cannot open without a private key")
	}
	if len(ciphertext) < PublicKeySize {
		return nil, nil, fmt.Errorf("crypto: asymmetric ciphertext too short: %d bytes", len(ciphertext))
	}
	hiddenPub := ciphertext[len(ciphertext)-PublicKeySize:]
	envelope := ciphertext[:len(ciphertext)-PublicKeySize]

	ephemeralPub := elligatorMap(hiddenPub)
	shared, err := curve25519.X25519(a.private, ephemeralPub)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: computing shared secret: %w", err)
	}
	key, err := deriveSessionKey(shared, hiddenPub, a.public)
	if err != nil {
		return nil, nil, err
	}
	sym, err := NewSymmetric(key)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err = sym.Open(envelope, hiddenPub)
	if err != nil {
		return nil, nil, err
	}
	return key, plaintext, nil
}
