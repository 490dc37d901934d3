// Package pump implements the bidirectional tunnel↔transport forwarder
// of §4.5: one goroutine reads the TUN device and writes to the
// transport, another reads the transport and writes to the TUN device,
// both cancellable, with scoped teardown of the transport and the
// tunnel device on any exit path.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"algae/internal/metrics"
	"algae/internal/transport"
)

// Device is the tunnel-side half of the pump's contract: the raw
// packet I/O the uplink/downlink loops drive, plus the two lifecycle
// steps the pump runs during teardown (§4.5, §6.1). A real Device is
// backed by `internal/tunnel`'s TUN file descriptor; tests substitute an
// io.Pipe-backed fake.
type Device interface {
	io.Reader
	io.Writer
	Down() error
	Delete() error
}

// Pump owns one tunnel Device and one transport.Endpoint for the
// lifetime of a session.
type Pump struct {
	device   Device
	endpoint transport.Endpoint
	log      zerolog.Logger
	reg      *metrics.Registry
}

// New builds a Pump. Run does not start until called.
func New(device Device, endpoint transport.Endpoint, log zerolog.Logger, reg *metrics.Registry) *Pump {
	return &Pump{device: device, endpoint: endpoint, log: log, reg: reg}
}

// Run drives the uplink and downlink loops until ctx is cancelled or
// either loop hits a fatal error, then tears down unconditionally:
// closes the transport (sending TERM), brings the tunnel down, and
// deletes it. The returned error is the first fatal cause, if any;
// cancellation and peer termination are not reported as errors.
func (p *Pump) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A blocked tunnel Read is not otherwise context-aware: downlink
	// stops through its context, while uplink only returns once the
	// device is closed. This watcher closes the device as soon as runCtx
	// ends, so uplink's blocking Read returns promptly on cancellation or
	// peer termination rather than waiting for the next packet.
	unblocked := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			if closer, ok := p.device.(io.Closer); ok {
				_ = closer.Close()
			}
		case <-unblocked:
		}
	}()
	defer close(unblocked)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return p.uplink(gctx) })
	g.Go(func() error {
		// A peer TERM ends downlink without an error, which errgroup
		// does not turn into a cancellation; end the run here instead.
		defer cancel()
		return p.downlink(gctx)
	})
	runErr := g.Wait()
	cancel()

	closeErr := p.endpoint.Close()
	if closeErr != nil {
		p.log.Debug().Err(closeErr).Msg("pump: closing transport during teardown")
	}
	if downErr := p.device.Down(); downErr != nil {
		p.log.Debug().Err(downErr).Msg("pump: bringing tunnel down during teardown")
	}
	if delErr := p.device.Delete(); delErr != nil {
		p.log.Debug().Err(delErr).Msg("pump: deleting tunnel during teardown")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (p *Pump) uplink(ctx context.Context) error {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		n, err := p.device.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pump: reading tunnel device: %w", err)
		}
		packet := append([]byte(nil), buf[:n]...)
		if err := p.endpoint.Write(ctx, packet); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pump: writing to transport: %w", err)
		}
		if p.reg != nil {
			p.reg.BytesUplink(n)
		}
	}
}

func (p *Pump) downlink(ctx context.Context) error {
	var downTotal uint64
	for {
		data, err := p.endpoint.Read(ctx)
		if err != nil {
			if transport.IsTermination(err) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pump: reading from transport: %w", err)
		}
		if _, err := p.device.Write(data); err != nil {
			return fmt.Errorf("pump: writing tunnel device: %w", err)
		}
		downTotal += uint64(len(data))
		if p.reg != nil {
			p.reg.BytesDownlink(len(data))
		}
		p.log.Trace().Str("total", humanize.Bytes(downTotal)).Msg("pump: downlink progress")
	}
}
