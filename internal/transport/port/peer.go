// Package port implements the PORT transport (§4.3): a reliable,
// ordered tunnel endpoint running over a pair of TCP connections, one
// for the handshake and one for data, with OS-level keepalive.
package port

import (
	"context"
	"fmt"
	"net"
	"time"

	"algae/internal/crypto"
	"algae/internal/wire"
)

// KeepAlive holds the OS-level TCP keepalive parameters mandated by
// §4.2 (idle=5s, interval=10s, count=5). All three are applied to the
// connection through net.KeepAliveConfig.
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultKeepAlive matches §4.2's constants.
var DefaultKeepAlive = KeepAlive{
	Idle:     5 * time.Second,
	Interval: 10 * time.Second,
	Count:    5,
}

func configureKeepAlive(conn *net.TCPConn, ka KeepAlive) error {
	err := conn.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     ka.Idle,
		Interval: ka.Interval,
		Count:    ka.Count,
	})
	if err != nil {
		return fmt.Errorf("port: configuring keepalive: %w", err)
	}
	return nil
}

// peer bundles the state shared by a client-side and a server-side PORT
// data connection: a TCP connection, the session's symmetric cipher, and
// the configured tail budget. It is not an exported type: Client and
// Server each hold one by value and delegate their Read/Write/Close to
// the functions below, so the only abstraction that crosses package
// boundaries is the transport.Endpoint interface (§9).
type peer struct {
	conn    net.Conn
	sym     *crypto.Symmetric
	maxTail int
}

func (p *peer) readMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetReadDeadline(deadline)
	} else {
		_ = p.conn.SetReadDeadline(time.Time{})
	}

	header := make([]byte, wire.PortAnyHeaderSize)
	if _, err := readFull(p.conn, header); err != nil {
		return nil, fmt.Errorf("port: reading message header: %w", err)
	}
	kind, dataCtLen, tailLen, err := wire.DecodePortAnyHeader(p.sym, header)
	if err != nil {
		return nil, err
	}
	if kind == wire.PortTermination {
		if _, derr := discard(p.conn, tailLen); derr != nil {
			return nil, derr
		}
		return nil, errTerminated
	}

	payload := make([]byte, dataCtLen)
	if _, err := readFull(p.conn, payload); err != nil {
		return nil, fmt.Errorf("port: reading message payload: %w", err)
	}
	data, err := wire.DecodePortData(p.sym, payload)
	if err != nil {
		return nil, err
	}
	if _, err := discard(p.conn, tailLen); err != nil {
		return nil, err
	}
	return data, nil
}

func (p *peer) writeData(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(deadline)
	} else {
		_ = p.conn.SetWriteDeadline(time.Time{})
	}
	wirebuf, err := wire.EncodePortData(p.sym, data, p.maxTail)
	if err != nil {
		return err
	}
	_, err = p.conn.Write(wirebuf)
	return err
}

func (p *peer) writeTerm() error {
	wirebuf, err := wire.EncodePortTerm(p.sym, p.maxTail)
	if err != nil {
		return err
	}
	_, err = p.conn.Write(wirebuf)
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func discard(conn net.Conn, n int) (int, error) {
	if n == 0 {
		return 0, nil
	}
	buf := make([]byte, n)
	return readFull(conn, buf)
}

// errTerminated is returned by readMessage when the peer sent TERM; it
// is the PORT analogue of TYPHOON's termination error (§4.4.4, §7).
var errTerminated = fmt.Errorf("port: connection terminated by peer")

// IsTermination reports whether err is the "peer sent TERM" condition,
// the expected-shutdown case the pump treats as a clean exit (§7).
func IsTermination(err error) bool {
	return err == errTerminated
}
