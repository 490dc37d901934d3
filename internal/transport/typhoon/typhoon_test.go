package typhoon

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"algae/internal/config"
	"algae/internal/crypto"
	"algae/internal/wire"
)

func fastTestConfig() config.Typhoon {
	return config.Typhoon{
		MinNextIn:         20 * time.Millisecond,
		MaxNextIn:         80 * time.Millisecond,
		InitialNextInMult: 1, // skip the real protocol's tiny initial range to keep the test fast
		MinRTT:            5 * time.Millisecond,
		MaxRTT:            50 * time.Millisecond,
		DefaultRTT:        10 * time.Millisecond,
		RTTMult:           4,
		MinTimeout:        20 * time.Millisecond,
		MaxTimeout:        200 * time.Millisecond,
		MaxRetries:        5,
		MaxTail:           16,
	}
}

func TestTyphoonHandshakeAndEcho(t *testing.T) {
	listenerAsym, err := crypto.GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}
	peerPublicKey := listenerAsym.PublicKey()

	cfg := fastTestConfig()
	log := zerolog.Nop()

	seed := seedFromKeypair(t, listenerAsym)
	ln, err := Listen("127.0.0.1", 0, seed, cfg, log, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	listenerPort := ln.conn.LocalAddr().(*net.UDPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverData := make(chan []byte, 4)
	go func() {
		_ = ln.Serve(ctx, func(clientName string, token []byte) wire.Status {
			return wire.StatusSuccess
		}, func(userID uint16, data []byte) {
			serverData <- data
		})
	}()

	client, err := Dial(ctx, "127.0.0.1", listenerPort, peerPublicKey, "test-client", []byte("token"), cfg, log, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := client.Write(ctx, []byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case data := <-serverData:
		if string(data) != "ping" {
			t.Fatalf("unexpected payload: %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive data")
	}
}

// seedFromKeypair extracts the 64-byte seed backing a listener-side
// Asymmetric, for tests that need to reconstruct it across the
// crypto/typhoon package boundary.
func seedFromKeypair(t *testing.T, asym *crypto.Asymmetric) []byte {
	t.Helper()
	seed, err := crypto.ExportSeed(asym)
	if err != nil {
		t.Fatalf("ExportSeed: %v", err)
	}
	return seed
}
