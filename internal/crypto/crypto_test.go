package crypto

import (
	"bytes"
	"testing"
)

func TestSymmetricRoundTrip(t *testing.T) {
	sym, err := GenerateSymmetric()
	if err != nil {
		t.Fatalf("GenerateSymmetric: %v", err)
	}

	cases := [][]byte{
		{},
		[]byte("ping"),
		bytes.Repeat([]byte{0xAB}, 1400),
	}
	ad := []byte("additional-data")

	for _, plaintext := range cases {
		sealed, err := sym.Seal(plaintext, ad)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if len(sealed) != len(plaintext)+SymmetricOverhead {
			t.Fatalf("unexpected overhead: got %d want %d", len(sealed), len(plaintext)+SymmetricOverhead)
		}
		opened, err := sym.Open(sealed, ad)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Fatalf("round trip mismatch: got %x want %x", opened, plaintext)
		}
	}
}

func TestSymmetricTamperDetected(t *testing.T) {
	sym, err := GenerateSymmetric()
	if err != nil {
		t.Fatalf("GenerateSymmetric: %v", err)
	}
	sealed, err := sym.Seal([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[0] ^= 0xFF
	if _, err := sym.Open(sealed, nil); err == nil {
		t.Fatal("expected tamper detection to fail authentication")
	}
}

func TestAsymmetricRoundTrip(t *testing.T) {
	listener, err := GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}
	client, err := NewAsymmetricPeer(listener.PublicKey())
	if err != nil {
		t.Fatalf("NewAsymmetricPeer: %v", err)
	}

	plaintext := []byte("session-token-0123456789")
	keyA, sealed, err := client.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	keyB, opened, err := listener.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %x want %x", opened, plaintext)
	}
	if !bytes.Equal(keyA, keyB) {
		t.Fatalf("derived keys differ: %x != %x", keyA, keyB)
	}
	if len(sealed) != len(plaintext)+AsymmetricOverhead {
		t.Fatalf("unexpected overhead: got %d want %d", len(sealed), len(plaintext)+AsymmetricOverhead)
	}
}

func TestAsymmetricFromSeed(t *testing.T) {
	listener, err := GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}
	seed := append(append([]byte(nil), listener.private...), listener.public...)
	restored, err := NewAsymmetricFromSeed(seed)
	if err != nil {
		t.Fatalf("NewAsymmetricFromSeed: %v", err)
	}
	if !bytes.Equal(restored.PublicKey(), listener.PublicKey()) {
		t.Fatal("restored keypair public key mismatch")
	}
}
