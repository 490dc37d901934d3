package coordinator

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"algae/internal/config"
	"algae/internal/metrics"
)

func TestDialTransportRejectsUnknownProtocol(t *testing.T) {
	_, _, err := dialTransport(context.Background(), Params{Protocol: "quantum"}, config.Default(), nil, "client", nil, 0, 0, zerolog.Nop(), metrics.New())
	if err == nil {
		t.Fatal("expected an error for an unrecognized protocol")
	}
}

func TestSignalContextCancelsOnSIGTERM(t *testing.T) {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("sending SIGTERM: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after SIGTERM")
	}
}

func TestSignalContextCancelsOnParentCancellation(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	ctx, cancel := signalContext(parent)
	defer cancel()

	parentCancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after parent cancellation")
	}
}
