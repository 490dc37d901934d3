package port

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"algae/internal/crypto"
	"algae/internal/wire"
)

// ConnectionCallback decides whether to admit a handshaking client,
// given its declared name and the token it presented. A zero Status
// admits the client (§4.7).
type ConnectionCallback func(clientName string, token []byte) wire.Status

// DataCallback receives every DATA payload a Server reads, tagged with
// the server's user ID.
type DataCallback func(userID uint16, data []byte)

// Listener is the whirlpool-side PORT accept loop. It runs the
// handshake on a single well-known control port and spins up one
// freshly-bound TCP listener per admitted session for the data
// connection (§9's open question: two distinct sockets, not a reused
// handshake socket).
type Listener struct {
	asym    *crypto.Asymmetric
	ln      net.Listener
	ka      KeepAlive
	maxTail int
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Server
}

// Listen binds the handshake listener on address:controlPort.
func Listen(address string, controlPort int, keypairSeed []byte, ka KeepAlive, maxTail int, log zerolog.Logger) (*Listener, error) {
	asym, err := crypto.NewAsymmetricFromSeed(keypairSeed)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", address, controlPort))
	if err != nil {
		return nil, fmt.Errorf("port: binding handshake listener: %w", err)
	}
	return &Listener{
		asym:     asym,
		ln:       ln,
		ka:       ka,
		maxTail:  maxTail,
		log:      log,
		sessions: make(map[string]*Server),
	}, nil
}

// PublicKey returns the listener's public key, to be handed out by the
// control channel.
func (l *Listener) PublicKey() []byte { return l.asym.PublicKey() }

// Addr returns the handshake listener's bound address, useful when
// controlPort was 0 and the OS chose an ephemeral port.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts handshake connections until ctx is cancelled or the
// listener is closed, admitting each via connCallback and forwarding
// DATA payloads to dataCallback.
func (l *Listener) Serve(ctx context.Context, connCallback ConnectionCallback, dataCallback DataCallback) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("port: accept: %w", err)
		}
		go l.handleHandshake(ctx, conn, connCallback, dataCallback)
	}
}

func (l *Listener) handleHandshake(ctx context.Context, handshakeConn net.Conn, connCallback ConnectionCallback, dataCallback DataCallback) {
	defer handshakeConn.Close()

	header := make([]byte, wire.PortClientInitHeaderSize)
	if _, err := readFull(handshakeConn, header); err != nil {
		l.log.Debug().Err(err).Msg("port: failed to read client INIT header")
		return
	}
	sessionKey, clientName, tokenCtLen, tailLen, err := wire.DecodePortClientInitHeader(l.asym, header)
	if err != nil {
		l.log.Debug().Err(err).Msg("port: malformed client INIT header")
		return
	}
	sym, err := crypto.NewSymmetric(sessionKey)
	if err != nil {
		l.log.Error().Err(err).Msg("port: deriving session cipher")
		return
	}

	tokenCt := make([]byte, tokenCtLen)
	if _, err := readFull(handshakeConn, tokenCt); err != nil {
		l.log.Debug().Err(err).Msg("port: failed to read client INIT token")
		return
	}
	token, err := wire.DecodePortToken(sym, tokenCt)
	if err != nil {
		l.log.Debug().Err(err).Msg("port: token authentication failed")
		return
	}
	if _, err := discard(handshakeConn, tailLen); err != nil {
		l.log.Debug().Err(err).Msg("port: failed to read client INIT tail")
		return
	}

	status := connCallback(clientName, token)

	var userID uint16
	var dataLn net.Listener
	if status == wire.StatusSuccess {
		dataLn, err = net.Listen("tcp", ":0")
		if err != nil {
			l.log.Error().Err(err).Msg("port: binding data listener")
			status = wire.StatusDenied
		} else {
			userID = uint16(dataLn.Addr().(*net.TCPAddr).Port)
		}
	}

	response, err := wire.EncodePortServerInit(sym, status, userID, l.maxTail)
	if err != nil {
		l.log.Error().Err(err).Msg("port: encoding server INIT")
		if dataLn != nil {
			dataLn.Close()
		}
		return
	}
	if _, err := handshakeConn.Write(response); err != nil {
		l.log.Debug().Err(err).Msg("port: writing server INIT")
		if dataLn != nil {
			dataLn.Close()
		}
		return
	}

	if status != wire.StatusSuccess {
		l.log.Info().Str("client", clientName).Msg("port: handshake denied")
		return
	}

	l.evictDuplicateToken(token)
	l.acceptDataConnection(ctx, dataLn, sym, clientName, userID, token, dataCallback)
}

func (l *Listener) evictDuplicateToken(token []byte) {
	l.mu.Lock()
	old, exists := l.sessions[string(token)]
	delete(l.sessions, string(token))
	l.mu.Unlock()
	if exists {
		_ = old.Close()
	}
}

func (l *Listener) acceptDataConnection(ctx context.Context, dataLn net.Listener, sym *crypto.Symmetric, clientName string, userID uint16, token []byte, dataCallback DataCallback) {
	defer dataLn.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan acceptResult, 1)
	go func() {
		conn, err := dataLn.Accept()
		resultCh <- acceptResult{conn, err}
	}()

	var result acceptResult
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		return
	}
	if result.err != nil {
		l.log.Debug().Err(result.err).Msg("port: data connection accept failed")
		return
	}

	if tcpConn, ok := result.conn.(*net.TCPConn); ok {
		if err := configureKeepAlive(tcpConn, l.ka); err != nil {
			l.log.Debug().Err(err).Msg("port: configuring keepalive")
		}
	}

	server := newServer(result.conn, sym, l.maxTail, clientName, userID)

	l.mu.Lock()
	l.sessions[string(token)] = server
	l.mu.Unlock()

	l.log.Info().Str("client", clientName).Uint16("user_id", userID).Msg("port: session established")

	for {
		data, err := server.Read(ctx)
		if err != nil {
			break
		}
		dataCallback(userID, data)
	}

	l.mu.Lock()
	if l.sessions[string(token)] == server {
		delete(l.sessions, string(token))
	}
	l.mu.Unlock()
	_ = server.conn.Close()
}

// Close closes every active session under the map lock, then the
// handshake listener (§4.7).
func (l *Listener) Close() error {
	l.mu.Lock()
	sessions := make([]*Server, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.sessions = make(map[string]*Server)
	for _, s := range sessions {
		_ = s.Close()
	}
	l.mu.Unlock()

	return l.ln.Close()
}
