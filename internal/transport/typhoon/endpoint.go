// Package typhoon implements the TYPHOON transport (§4.4): an
// unreliable UDP endpoint with its own handshake retransmission and a
// steady-state "decay" keep-alive loop.
package typhoon

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"algae/internal/config"
	"algae/internal/crypto"
	"algae/internal/metrics"
	"algae/internal/rtt"
	"algae/internal/wire"
)

var (
	// ErrTerminated is returned from Read once a TERM frame has
	// been received (§4.4.4) — the expected-shutdown case.
	ErrTerminated = errors.New("typhoon: connection terminated by peer")
	// ErrDecayTimeout is returned once the decay loop exhausts
	// MAX_RETRIES without a reply — fatal to the session (§4.4.3, §7).
	ErrDecayTimeout = errors.New("typhoon: decay loop exhausted retries")
)

// remoteEvent is a parsed HDSK or HDSK|DATA frame, the unit the decay
// loop waits on (§4.4.3's "incoming_hdsk event").
type remoteEvent struct {
	packetNumber uint32
	nextIn       time.Duration
	receivedAt   time.Time
}

// endpoint bundles the state shared by a Client and a Server once their
// respective handshakes complete: the connected UDP socket, the
// session cipher, RTT state, and the decay loop. Only the handshake
// differs between the two roles, so only it lives outside this type
// (§9: share the capability, not a base class).
type endpoint struct {
	conn      *net.UDPConn
	sym       *crypto.Symmetric
	cfg       config.Typhoon
	estimator *rtt.Estimator
	log       zerolog.Logger
	metrics   *metrics.Registry

	sendMu       sync.Mutex
	localNextIn  time.Duration
	lastSentAt   time.Time

	seenMu        sync.Mutex
	haveLastSeen  bool
	lastSeenPkt   uint32

	shadowMu      sync.Mutex
	shadowPending bool

	events chan remoteEvent
	dataCh chan []byte
	closeCh chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newEndpoint(conn *net.UDPConn, sym *crypto.Symmetric, cfg config.Typhoon, log zerolog.Logger, reg *metrics.Registry) *endpoint {
	e := &endpoint{
		conn:      conn,
		sym:       sym,
		cfg:       cfg,
		estimator: rtt.New(rtt.Config{MinRTT: cfg.MinRTT, MaxRTT: cfg.MaxRTT, DefaultRTT: cfg.DefaultRTT, RTTMult: cfg.RTTMult, MinTimeout: cfg.MinTimeout, MaxTimeout: cfg.MaxTimeout}),
		log:       log,
		metrics:   reg,
		events:    make(chan remoteEvent, 1),
		dataCh:    make(chan []byte, 64),
		closeCh:   make(chan struct{}),
	}
	return e
}

// start launches the read loop and the decay loop, seeded with the
// baseline nextIn learned at handshake time.
func (e *endpoint) start(ctx context.Context, baselineNextIn time.Duration) {
	e.localNextIn = baselineNextIn
	e.lastSentAt = time.Now()
	go e.readLoop(ctx)
	go e.decayLoop(ctx, baselineNextIn)
}

func (e *endpoint) setErr(err error) {
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()
	e.closeOnce.Do(func() { close(e.closeCh) })
}

func (e *endpoint) getErr() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

func (e *endpoint) readLoop(ctx context.Context) {
	buf := make([]byte, 65535+wire.MaxTailTyphoon+128)
	for {
		_ = e.conn.SetReadDeadline(time.Time{})
		n, err := e.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.setErr(fmt.Errorf("typhoon: reading datagram: %w", err))
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		msg, err := wire.DecodeTyphoonMessage(e.sym, datagram)
		if err != nil {
			e.log.Debug().Err(err).Msg("typhoon: dropping malformed datagram")
			continue
		}

		switch msg.Kind {
		case wire.TyphoonTermination:
			e.setErr(ErrTerminated)
			return
		case wire.TyphoonData:
			e.deliverData(msg.Data)
		case wire.TyphoonHandshake, wire.TyphoonHandshakeData:
			nextIn := time.Duration(msg.NextIn) * time.Millisecond
			min, max := wire.NextInRange(false, uint32(e.cfg.MinNextIn.Milliseconds()), uint32(e.cfg.MaxNextIn.Milliseconds()), e.cfg.InitialNextInMult)
			if msg.NextIn < min || msg.NextIn > max {
				e.log.Debug().Uint32("next_in", msg.NextIn).Msg("typhoon: HDSK next_in out of range, dropping")
				continue
			}
			if !e.isNewerPacket(msg.PacketNumber) {
				e.log.Debug().Uint32("packet_number", msg.PacketNumber).Msg("typhoon: stale or replayed HDSK, dropping")
				continue
			}
			e.recordRTTSample(nextIn)
			e.pushEvent(remoteEvent{packetNumber: msg.PacketNumber, nextIn: nextIn, receivedAt: time.Now()})
			if msg.Kind == wire.TyphoonHandshakeData {
				e.deliverData(msg.Data)
			}
		}
	}
}

func (e *endpoint) deliverData(data []byte) {
	select {
	case e.dataCh <- data:
	case <-e.closeCh:
	}
}

// pushEvent keeps only the most recent event: the decay loop cares
// about the latest liveness signal, not a backlog of them.
func (e *endpoint) pushEvent(ev remoteEvent) {
	select {
	case e.events <- ev:
		return
	default:
	}
	select {
	case <-e.events:
	default:
	}
	select {
	case e.events <- ev:
	default:
	}
}

// isNewerPacket reports whether pkt is strictly newer than the last HDSK
// packet number this endpoint accepted, using the wraparound-safe
// modular comparison from §9's "RTT math" note so a 32-bit packet
// counter rollover doesn't get mistaken for a replayed/stale frame.
func (e *endpoint) isNewerPacket(pkt uint32) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if !e.haveLastSeen || rtt.SequenceDelta(e.lastSeenPkt, pkt) > 0 {
		e.haveLastSeen = true
		e.lastSeenPkt = pkt
		return true
	}
	return false
}

// recordRTTSample implements §4.4.3's "current_rt = (now - last_sent -
// next_in) mod 2^32" rule: the round trip minus the peer's declared
// processing delay before it replied.
func (e *endpoint) recordRTTSample(peerNextIn time.Duration) {
	e.sendMu.Lock()
	elapsed := time.Since(e.lastSentAt)
	e.sendMu.Unlock()
	sample := elapsed - peerNextIn
	if sample < 0 {
		sample += time.Duration(1<<32) * time.Millisecond
	}
	e.estimator.Update(sample)
	if e.metrics != nil {
		e.metrics.ObserveRTT(float64(sample.Milliseconds()))
	}
}

func (e *endpoint) setShadowPending(pending bool) {
	e.shadowMu.Lock()
	e.shadowPending = pending
	e.shadowMu.Unlock()
}

func (e *endpoint) consumeShadowPending() bool {
	e.shadowMu.Lock()
	defer e.shadowMu.Unlock()
	if e.shadowPending {
		e.shadowPending = false
		return true
	}
	return false
}

func randomNextIn(min, max time.Duration) (time.Duration, error) {
	if max <= min {
		return min, nil
	}
	span := int64(max - min)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, fmt.Errorf("typhoon: drawing random next_in: %w", err)
	}
	return min + time.Duration(n.Int64()), nil
}

// sendHDSK transmits a bare keep-alive frame and records it as the new
// send baseline.
func (e *endpoint) sendHDSK(nextIn time.Duration) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	packetNumber := wire.PacketNumberNow(time.Now().UnixMilli())
	wirebuf, err := wire.EncodeTyphoonHdsk(e.sym, packetNumber, uint32(nextIn.Milliseconds()), nil, e.cfg.MaxTail)
	if err != nil {
		return err
	}
	if _, err := e.conn.Write(wirebuf); err != nil {
		return fmt.Errorf("typhoon: sending HDSK: %w", err)
	}
	e.localNextIn = nextIn
	e.lastSentAt = time.Now()
	return nil
}

// Read implements transport.Endpoint.
func (e *endpoint) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-e.dataCh:
		return data, nil
	case <-e.closeCh:
		if err := e.getErr(); err != nil {
			return nil, err
		}
		return nil, ErrTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements transport.Endpoint. If a shadow-ride signal is
// pending (§4.4.3), it piggybacks a fresh HDSK on this DATA frame
// instead of sending a bare DATA frame.
func (e *endpoint) Write(ctx context.Context, data []byte) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if e.consumeShadowPending() {
		packetNumber := wire.PacketNumberNow(time.Now().UnixMilli())
		nextIn, err := randomNextIn(maxDuration(e.estimator.Timeout(), e.cfg.MinNextIn), e.cfg.MaxNextIn)
		if err != nil {
			return err
		}
		wirebuf, err := wire.EncodeTyphoonHdsk(e.sym, packetNumber, uint32(nextIn.Milliseconds()), data, e.cfg.MaxTail)
		if err != nil {
			return err
		}
		if _, err := e.conn.Write(wirebuf); err != nil {
			return fmt.Errorf("typhoon: sending shadow-ride frame: %w", err)
		}
		e.localNextIn = nextIn
		e.lastSentAt = time.Now()
		return nil
	}

	wirebuf, err := wire.EncodeTyphoonData(e.sym, data, e.cfg.MaxTail)
	if err != nil {
		return err
	}
	if _, err := e.conn.Write(wirebuf); err != nil {
		return fmt.Errorf("typhoon: sending DATA: %w", err)
	}
	return nil
}

// Close sends TERM (best effort) and closes the socket. Idempotent.
func (e *endpoint) Close() error {
	wirebuf, encErr := wire.EncodeTyphoonTerm(e.sym, e.cfg.MaxTail)
	var writeErr error
	if encErr == nil {
		e.sendMu.Lock()
		_, writeErr = e.conn.Write(wirebuf)
		e.sendMu.Unlock()
	}
	e.closeOnce.Do(func() { close(e.closeCh) })
	if cerr := e.conn.Close(); cerr != nil {
		return cerr
	}
	if encErr != nil {
		return encErr
	}
	return writeErr
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
