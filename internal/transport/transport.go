// Package transport defines the capability set shared by the PORT and
// TYPHOON endpoints (§9's "tagged union/interface, avoid inheritance"
// note): a single Endpoint interface, no common base type for the
// distinct Client/Server/Listener concretes underneath it.
package transport

import (
	"context"
	"errors"

	"algae/internal/transport/port"
	"algae/internal/transport/typhoon"
)

// Endpoint is the contract the pump drives: connect once, then read and
// write framed tunnel packets until Close.
type Endpoint interface {
	// Read blocks for the next inbound tunnel packet, or returns an error
	// if the peer terminated the session or the context was cancelled.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one tunnel packet.
	Write(ctx context.Context, packet []byte) error

	// Close sends a termination frame (best effort) and releases the
	// underlying socket. Idempotent.
	Close() error
}

// MaxPacketSize is the largest tunnel packet the pump will ever read off
// the TUN device in one call (§4.5).
const MaxPacketSize = 65535

// IsTermination reports whether err is the "peer sent TERM" condition
// from either concrete transport — the pump's cue to exit its downlink
// loop cleanly rather than treat the error as fatal (§7).
func IsTermination(err error) bool {
	return port.IsTermination(err) || errors.Is(err, typhoon.ErrTerminated)
}
