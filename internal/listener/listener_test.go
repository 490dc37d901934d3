package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"algae/internal/crypto"
	internalmetrics "algae/internal/metrics"
	"algae/internal/transport/port"
	"algae/internal/wire"
)

// TestListenerAdmitsAndForwardsPortData is a higher-level integration
// test: it binds a real listener, dials a real PORT client against it,
// and checks a payload survives the whole admit-then-forward path.
func TestListenerAdmitsAndForwardsPortData(t *testing.T) {
	asym, err := crypto.GenerateAsymmetric()
	require.NoError(t, err)
	seed, err := crypto.ExportSeed(asym)
	require.NoError(t, err)

	reg := internalmetrics.New()
	ln, err := New(Config{
		Address:       "127.0.0.1",
		ControlPort:   0,
		Protocol:      ProtocolPort,
		KeypairSeed:   seed,
		PortKeepAlive: port.DefaultKeepAlive,
		MaxTail:       16,
	}, zerolog.Nop(), reg)
	require.NoError(t, err)
	defer ln.Close()

	controlPort := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 4)
	go func() {
		_ = ln.Serve(ctx,
			func(clientName string, token []byte) wire.Status {
				if string(token) != "good-token" {
					return wire.StatusDenied
				}
				return wire.StatusSuccess
			},
			func(userID uint16, data []byte) { received <- data },
		)
	}()

	client, err := port.Dial(ctx, "127.0.0.1", controlPort, ln.PublicKey(), "test-client", []byte("good-token"), port.DefaultKeepAlive, 16)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Write(ctx, []byte("payload")))

	select {
	case data := <-received:
		require.Equal(t, "payload", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for listener to forward data")
	}
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	_, err := New(Config{Address: "127.0.0.1", Protocol: "quantum"}, zerolog.Nop(), internalmetrics.New())
	if err == nil {
		t.Fatal("expected an error for an unrecognized protocol")
	}
}
