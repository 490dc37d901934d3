// Package listener implements the caerulean/whirlpool side of §4.7:
// accept handshakes on one of the two wire protocols, dispatch
// admission decisions and inbound data to caller-supplied callbacks,
// and expose the listener's own counters on a loopback /metrics
// endpoint, grounded on R2Northstar-Atlas's metrics.Set-plus-/metrics-
// handler pattern (pkg/atlas/server.go's serveRest).
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"algae/internal/config"
	internalmetrics "algae/internal/metrics"
	"algae/internal/transport/port"
	"algae/internal/transport/typhoon"
	"algae/internal/wire"
)

// Protocol selects which wire protocol the listener accepts on.
type Protocol string

const (
	ProtocolPort    Protocol = "port"
	ProtocolTyphoon Protocol = "typhoon"
)

// ConnectionCallback decides whether to admit a handshaking client
// (§4.7): a zero wire.Status admits it.
type ConnectionCallback func(clientName string, token []byte) wire.Status

// DataCallback receives every DATA payload the listener decrypts,
// tagged with the originating session's user ID. The caller is
// responsible for whatever happens to the packet next (routing it onto
// a shared exit tunnel, NATing it, or simply counting it in tests).
type DataCallback func(userID uint16, data []byte)

// Config describes how to bind and, optionally, how to expose metrics.
type Config struct {
	Address     string
	ControlPort int
	Protocol    Protocol
	KeypairSeed []byte

	PortKeepAlive port.KeepAlive
	MaxTail       int
	Typhoon       config.Typhoon

	// MetricsAddress, if non-empty, is where WritePrometheus is served
	// over plain HTTP (e.g. "127.0.0.1:9090"). Left empty, no metrics
	// server is started (§2.8: metrics are opt-in).
	MetricsAddress string
}

// concreteListener is the minimal surface shared by port.Listener and
// typhoon.Listener that this package drives.
type concreteListener interface {
	PublicKey() []byte
	Addr() net.Addr
	Close() error
}

// Listener wraps exactly one protocol's concrete listener plus an
// optional metrics HTTP server.
type Listener struct {
	protocol Protocol
	portLn   *port.Listener
	typhoon  *typhoon.Listener
	inner    concreteListener

	log zerolog.Logger
	reg *internalmetrics.Registry

	metricsAddress string
	metricsSrv     *http.Server
}

// New binds the configured protocol's listener. Serve must be called to
// start accepting connections.
func New(cfg Config, log zerolog.Logger, reg *internalmetrics.Registry) (*Listener, error) {
	l := &Listener{protocol: cfg.Protocol, log: log, reg: reg, metricsAddress: cfg.MetricsAddress}

	switch cfg.Protocol {
	case ProtocolPort:
		ln, err := port.Listen(cfg.Address, cfg.ControlPort, cfg.KeypairSeed, cfg.PortKeepAlive, cfg.MaxTail, log)
		if err != nil {
			return nil, fmt.Errorf("listener: binding PORT listener: %w", err)
		}
		l.portLn = ln
		l.inner = ln
	case ProtocolTyphoon:
		ln, err := typhoon.Listen(cfg.Address, cfg.ControlPort, cfg.KeypairSeed, cfg.Typhoon, log, reg)
		if err != nil {
			return nil, fmt.Errorf("listener: binding TYPHOON listener: %w", err)
		}
		l.typhoon = ln
		l.inner = ln
	default:
		return nil, fmt.Errorf("listener: unrecognized protocol %q", cfg.Protocol)
	}

	return l, nil
}

// PublicKey returns the listener's public key, for the control plane to
// hand out via authenticate() (§6.2).
func (l *Listener) PublicKey() []byte { return l.inner.PublicKey() }

// Addr returns the bound socket address, useful when ControlPort was 0.
func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

// Serve runs the accept loop until ctx is cancelled, wrapping the
// caller's callbacks with session-count metrics and structured logging.
// It blocks until the underlying listener's Serve returns.
func (l *Listener) Serve(ctx context.Context, connCallback ConnectionCallback, dataCallback DataCallback) error {
	if l.metricsAddress != "" {
		l.startMetricsServer()
		defer l.stopMetricsServer()
	}

	wrappedConn := func(clientName string, token []byte) wire.Status {
		status := connCallback(clientName, token)
		if status == wire.StatusSuccess {
			l.reg.SessionStarted()
			l.log.Info().Str("client", clientName).Msg("listener: session admitted")
		} else {
			l.reg.HandshakeFailed()
			l.log.Warn().Str("client", clientName).Uint8("status", uint8(status)).Msg("listener: session denied")
		}
		return status
	}
	wrappedData := func(userID uint16, data []byte) {
		l.reg.BytesDownlink(len(data))
		dataCallback(userID, data)
	}

	switch l.protocol {
	case ProtocolPort:
		return l.portLn.Serve(ctx, port.ConnectionCallback(wrappedConn), port.DataCallback(wrappedData))
	case ProtocolTyphoon:
		return l.typhoon.Serve(ctx, typhoon.ConnectionCallback(wrappedConn), typhoon.DataCallback(wrappedData))
	default:
		return fmt.Errorf("listener: unrecognized protocol %q", l.protocol)
	}
}

// Close closes every per-session server and the listening socket
// (§4.7: "iterates servers and closes them under a lock, then closes
// the listening socket" — delegated to the concrete listener, which
// already implements that ordering).
func (l *Listener) Close() error {
	return l.inner.Close()
}

func (l *Listener) startMetricsServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WriteProcessMetrics(w)
		l.reg.WritePrometheus(w)
	})
	l.metricsSrv = &http.Server{Addr: l.metricsAddress, Handler: mux}

	ln, err := net.Listen("tcp", l.metricsAddress)
	if err != nil {
		l.log.Warn().Err(err).Str("address", l.metricsAddress).Msg("listener: metrics endpoint disabled")
		l.metricsSrv = nil
		return
	}
	go func() {
		if err := l.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Warn().Err(err).Msg("listener: metrics server stopped")
		}
	}()
}

func (l *Listener) stopMetricsServer() {
	if l.metricsSrv == nil {
		return
	}
	_ = l.metricsSrv.Close()
}
