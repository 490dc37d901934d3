package port

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"algae/internal/crypto"
	"algae/internal/wire"
)

// Client is the viridian-side PORT endpoint: a completed handshake plus
// the live data connection (§4.3, §9 — a distinct concrete type, not a
// subclass of some shared peer base).
type Client struct {
	peer
	userID uint16
}

// Dial performs the PORT handshake against a listener at address:port,
// authenticating with token under the listener's public key, and
// returns a Client ready for Read/Write. name identifies this client in
// the listener's logs.
func Dial(ctx context.Context, address string, controlPort int, peerPublicKey []byte, name string, token []byte, ka KeepAlive, maxTail int) (*Client, error) {
	asym, err := crypto.NewAsymmetricPeer(peerPublicKey)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	handshakeConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(controlPort)))
	if err != nil {
		return nil, fmt.Errorf("port: dialing handshake connection: %w", err)
	}
	defer handshakeConn.Close()

	sessionKey, initBuf, err := wire.EncodePortClientInit(asym, name, token, maxTail)
	if err != nil {
		return nil, err
	}
	if _, err := handshakeConn.Write(initBuf); err != nil {
		return nil, fmt.Errorf("port: sending client INIT: %w", err)
	}

	header := make([]byte, wire.PortServerInitHeaderSize)
	if _, err := readFull(handshakeConn, header); err != nil {
		return nil, fmt.Errorf("port: reading server INIT: %w", err)
	}
	sym, err := crypto.NewSymmetric(sessionKey)
	if err != nil {
		return nil, err
	}
	status, userID, tailLen, err := wire.DecodePortServerInit(sym, header)
	if err != nil {
		return nil, err
	}
	if _, err := discard(handshakeConn, tailLen); err != nil {
		return nil, err
	}
	if status != wire.StatusSuccess {
		return nil, fmt.Errorf("port: listener rejected handshake with status %d", status)
	}

	dataConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(int(userID))))
	if err != nil {
		return nil, fmt.Errorf("port: dialing data connection: %w", err)
	}
	if tcpConn, ok := dataConn.(*net.TCPConn); ok {
		if err := configureKeepAlive(tcpConn, ka); err != nil {
			dataConn.Close()
			return nil, err
		}
	}

	return &Client{peer: peer{conn: dataConn, sym: sym, maxTail: maxTail}, userID: userID}, nil
}

// UserID returns the per-session port the listener assigned this client.
func (c *Client) UserID() uint16 { return c.userID }

func (c *Client) Read(ctx context.Context) ([]byte, error)         { return c.readMessage(ctx) }
func (c *Client) Write(ctx context.Context, data []byte) error     { return c.writeData(ctx, data) }
func (c *Client) Close() error {
	err := c.writeTerm()
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
