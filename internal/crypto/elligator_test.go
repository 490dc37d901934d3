package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/curve25519"
)

// TestElligatorMapInvertsRepresentative drives the direct map and its
// inverse back to back for freshly generated scalars, covering both
// the even and odd tweak branches (§4.1's hidden public key).
func TestElligatorMapInvertsRepresentative(t *testing.T) {
	found := map[byte]bool{}
	for attempt := 0; attempt < 2048 && (!found[0] || !found[1]); attempt++ {
		priv := make([]byte, privateKeySize)
		if _, err := rand.Read(priv); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}
		pub, err := curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			continue
		}

		for tweak := byte(0); tweak < 2; tweak++ {
			rep, ok := elligatorRepresentative(pub, tweak)
			if !ok {
				continue
			}
			found[tweak] = true
			got := elligatorMap(rep)
			if !bytes.Equal(got, pub) {
				t.Fatalf("tweak=%d: elligatorMap(elligatorRepresentative(pub)) = %x, want %x", tweak, got, pub)
			}
		}
	}
	if !found[0] || !found[1] {
		t.Fatalf("did not observe both tweak branches in the sample: %v", found)
	}
}
