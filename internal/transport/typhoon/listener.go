package typhoon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"algae/internal/config"
	"algae/internal/crypto"
	"algae/internal/metrics"
	"algae/internal/wire"
)

// ConnectionCallback decides whether to admit a handshaking client. A
// zero Status admits it (§4.7).
type ConnectionCallback func(clientName string, token []byte) wire.Status

// DataCallback receives every DATA payload a Server reads, tagged with
// the server's user ID.
type DataCallback func(userID uint16, data []byte)

// Listener is the whirlpool-side TYPHOON accept loop (§4.4.2, §4.7). It
// reads client INITs from one well-known UDP socket and, for each
// admitted client, hands off to a freshly-bound per-session socket.
type Listener struct {
	asym *crypto.Asymmetric
	conn *net.UDPConn
	cfg  config.Typhoon
	log  zerolog.Logger
	reg  *metrics.Registry

	mu       sync.Mutex
	sessions map[string]*Server
}

// Listen binds the listening UDP socket on address:listenerPort.
func Listen(address string, listenerPort int, keypairSeed []byte, cfg config.Typhoon, log zerolog.Logger, reg *metrics.Registry) (*Listener, error) {
	asym, err := crypto.NewAsymmetricFromSeed(keypairSeed)
	if err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, listenerPort))
	if err != nil {
		return nil, fmt.Errorf("typhoon: resolving listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("typhoon: binding listener socket: %w", err)
	}
	return &Listener{asym: asym, conn: conn, cfg: cfg, log: log, reg: reg, sessions: make(map[string]*Server)}, nil
}

// PublicKey returns the listener's public key, to be handed out by the
// control channel.
func (l *Listener) PublicKey() []byte { return l.asym.PublicKey() }

// Addr returns the listener's bound UDP address, useful when
// listenerPort was 0 and the OS chose an ephemeral port.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve reads client INITs until ctx is cancelled or the socket closes.
func (l *Listener) Serve(ctx context.Context, connCallback ConnectionCallback, dataCallback DataCallback) error {
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	buf := make([]byte, 65535+wire.MaxTailTyphoon+256)
	for {
		_ = l.conn.SetReadDeadline(time.Time{})
		n, remoteAddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("typhoon: reading from listening socket: %w", err)
		}
		datagram := append([]byte(nil), buf[:n]...)

		sessionKey, msg, err := wire.DecodeTyphoonClientInit(l.asym, datagram)
		if err != nil {
			l.log.Debug().Err(err).Msg("typhoon: dropping malformed client INIT")
			continue
		}
		min, max := scaledRange(l.cfg.MinNextIn, l.cfg.MaxNextIn, l.cfg.InitialNextInMult)
		if uint32(min.Milliseconds()) > msg.NextIn || msg.NextIn > uint32(max.Milliseconds()) {
			l.log.Debug().Msg("typhoon: client INIT next_in out of initial range, dropping")
			continue
		}

		go l.handleSession(ctx, sessionKey, msg, remoteAddr, connCallback, dataCallback)
	}
}

func (l *Listener) handleSession(ctx context.Context, sessionKey []byte, msg wire.TyphoonClientInit, remoteAddr *net.UDPAddr, connCallback ConnectionCallback, dataCallback DataCallback) {
	sym, err := crypto.NewSymmetric(sessionKey)
	if err != nil {
		l.log.Error().Err(err).Msg("typhoon: deriving session cipher")
		return
	}

	status := connCallback(msg.ClientName, msg.Token)
	if status != wire.StatusSuccess {
		wirebuf, err := wire.EncodeTyphoonServerInit(sym, msg.PacketNumber, status, 0, 0, l.cfg.MaxTail)
		if err == nil {
			_, _ = l.conn.WriteToUDP(wirebuf, remoteAddr)
		}
		l.log.Info().Str("client", msg.ClientName).Msg("typhoon: handshake denied")
		return
	}

	// A fresh, OS-assigned local port connected directly to the client,
	// matching the client's own "reconnect the UDP socket" step
	// (§4.4.2): subsequent reads/writes need no per-datagram address
	// bookkeeping.
	dataConn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		l.log.Error().Err(err).Msg("typhoon: opening per-session socket")
		return
	}
	userID := uint16(dataConn.LocalAddr().(*net.UDPAddr).Port)

	l.evictDuplicateToken(msg.Token)

	time.Sleep(time.Duration(msg.NextIn) * time.Millisecond)

	initMin, initMax := scaledRange(l.cfg.MinNextIn, l.cfg.MaxNextIn, l.cfg.InitialNextInMult)
	serverNextIn, err := randomNextIn(initMin, initMax)
	if err != nil {
		l.log.Error().Err(err).Msg("typhoon: drawing server next_in")
		dataConn.Close()
		return
	}

	var ackEvent remoteEvent
	var ackData []byte
	var acked bool
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		wirebuf, err := wire.EncodeTyphoonServerInit(sym, msg.PacketNumber, wire.StatusSuccess, userID, uint32(serverNextIn.Milliseconds()), l.cfg.MaxTail)
		if err != nil {
			l.log.Error().Err(err).Msg("typhoon: encoding server INIT")
			dataConn.Close()
			return
		}
		if _, err := l.conn.WriteToUDP(wirebuf, remoteAddr); err != nil {
			l.log.Debug().Err(err).Msg("typhoon: sending server INIT")
		}

		deadline := time.Now().Add(serverNextIn + l.cfg.DefaultRTT + l.cfg.MinTimeout)
		_ = dataConn.SetReadDeadline(deadline)
		buf := make([]byte, 65535+wire.MaxTailTyphoon+128)
		n, rerr := dataConn.Read(buf)
		if rerr != nil {
			continue
		}
		m, derr := wire.DecodeTyphoonMessage(sym, buf[:n])
		if derr != nil {
			continue
		}
		switch m.Kind {
		case wire.TyphoonHandshake:
			ackEvent = remoteEvent{packetNumber: m.PacketNumber, nextIn: time.Duration(m.NextIn) * time.Millisecond, receivedAt: time.Now()}
			acked = true
		case wire.TyphoonHandshakeData:
			ackEvent = remoteEvent{packetNumber: m.PacketNumber, nextIn: time.Duration(m.NextIn) * time.Millisecond, receivedAt: time.Now()}
			ackData = m.Data
			acked = true
		case wire.TyphoonData:
			ackEvent = remoteEvent{nextIn: serverNextIn, receivedAt: time.Now()}
			ackData = m.Data
			acked = true
		}
		if acked {
			break
		}
	}
	if !acked {
		l.log.Info().Str("client", msg.ClientName).Msg("typhoon: handshake ack never arrived")
		dataConn.Close()
		return
	}

	ep := newEndpoint(dataConn, sym, l.cfg, l.log, l.reg)
	server := &Server{endpoint: ep, clientName: msg.ClientName, userID: userID}

	l.mu.Lock()
	l.sessions[string(msg.Token)] = server
	l.mu.Unlock()

	ep.start(ctx, ackEvent.nextIn)
	if ackData != nil {
		dataCallback(userID, ackData)
	}

	l.log.Info().Str("client", msg.ClientName).Uint16("user_id", userID).Msg("typhoon: session established")

	go func() {
		for {
			data, err := server.Read(ctx)
			if err != nil {
				break
			}
			dataCallback(userID, data)
		}
		l.mu.Lock()
		if l.sessions[string(msg.Token)] == server {
			delete(l.sessions, string(msg.Token))
		}
		l.mu.Unlock()
	}()
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

// Close closes every active session under the map lock, then the
// listening socket (§4.7).
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

	return l.conn.Close()
}
