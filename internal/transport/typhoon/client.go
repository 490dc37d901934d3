package typhoon

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"algae/internal/config"
	"algae/internal/crypto"
	"algae/internal/metrics"
	"algae/internal/rtt"
	"algae/internal/wire"
)

// Client is the viridian-side TYPHOON endpoint.
type Client struct {
	*endpoint
	userID uint16
}

// Dial performs the TYPHOON handshake with retransmission (§4.4.2) and,
// on success, starts the decay loop and returns a ready Client.
func Dial(ctx context.Context, address string, listenerPort int, peerPublicKey []byte, name string, token []byte, cfg config.Typhoon, log zerolog.Logger, reg *metrics.Registry) (*Client, error) {
	asym, err := crypto.NewAsymmetricPeer(peerPublicKey)
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, listenerPort))
	if err != nil {
		return nil, fmt.Errorf("typhoon: resolving listener address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("typhoon: dialing listener: %w", err)
	}

	packetNumber := wire.PacketNumberNow(time.Now().UnixMilli())
	initialMin, initialMax := scaledRange(cfg.MinNextIn, cfg.MaxNextIn, cfg.InitialNextInMult)
	nextIn, err := randomNextIn(initialMin, initialMax)
	if err != nil {
		conn.Close()
		return nil, err
	}

	estimator := rtt.New(rtt.Config{MinRTT: cfg.MinRTT, MaxRTT: cfg.MaxRTT, DefaultRTT: cfg.DefaultRTT, RTTMult: cfg.RTTMult, MinTimeout: cfg.MinTimeout, MaxTimeout: cfg.MaxTimeout})

	var sessionKey []byte
	var userID uint16
	var serverNextIn time.Duration

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		sessionKey, err = sendClientInit(conn, asym, packetNumber, name, token, nextIn, cfg.MaxTail)
		if err != nil {
			conn.Close()
			return nil, err
		}
		sym, serr := crypto.NewSymmetric(sessionKey)
		if serr != nil {
			conn.Close()
			return nil, serr
		}

		deadline := time.Now().Add(nextIn + 2*estimator.SRTT() + estimator.Timeout())
		_ = conn.SetReadDeadline(deadline)

		buf := make([]byte, 65535+wire.MaxTailTyphoon+128)
		n, rerr := conn.Read(buf)
		if rerr != nil {
			continue // timed out or transient error: retry with same packet number, fresh tail
		}

		gotPacketNumber, status, gotUserID, gotNextIn, derr := wire.DecodeTyphoonServerInit(sym, buf[:n])
		if derr != nil {
			continue
		}
		if gotPacketNumber != packetNumber {
			continue
		}
		min, max := scaledRange(cfg.MinNextIn, cfg.MaxNextIn, cfg.InitialNextInMult)
		if gotNextIn < uint32(min.Milliseconds()) || gotNextIn > uint32(max.Milliseconds()) {
			continue
		}
		if status != wire.StatusSuccess {
			conn.Close()
			return nil, fmt.Errorf("typhoon: listener rejected handshake with status %d", status)
		}

		userID = gotUserID
		serverNextIn = time.Duration(gotNextIn) * time.Millisecond
		break
	}
	if userID == 0 {
		conn.Close()
		return nil, fmt.Errorf("typhoon: handshake exhausted %d retries", cfg.MaxRetries)
	}

	sym, err := crypto.NewSymmetric(sessionKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// Keep the local address so the per-session socket is the same UDP
	// endpoint the listener saw during the handshake.
	localAddr, _ := conn.LocalAddr().(*net.UDPAddr)
	if err := conn.Close(); err != nil {
		return nil, err
	}

	dataAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, userID))
	if err != nil {
		return nil, fmt.Errorf("typhoon: resolving per-session address: %w", err)
	}
	dataConn, err := net.DialUDP("udp", localAddr, dataAddr)
	if err != nil {
		return nil, fmt.Errorf("typhoon: dialing per-session socket: %w", err)
	}

	ep := newEndpoint(dataConn, sym, cfg, log, reg)
	ep.start(ctx, serverNextIn)

	return &Client{endpoint: ep, userID: userID}, nil
}

func sendClientInit(conn *net.UDPConn, asym *crypto.Asymmetric, packetNumber uint32, name string, token []byte, nextIn time.Duration, maxTail int) ([]byte, error) {
	msg := wire.TyphoonClientInit{
		PacketNumber: packetNumber,
		ClientName:   name,
		NextIn:       uint32(nextIn.Milliseconds()),
		Token:        token,
	}
	sessionKey, datagram, err := wire.EncodeTyphoonClientInit(asym, msg, maxTail)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(datagram); err != nil {
		return nil, fmt.Errorf("typhoon: sending client INIT: %w", err)
	}
	return sessionKey, nil
}

func scaledRange(min, max time.Duration, mult float64) (time.Duration, time.Duration) {
	return time.Duration(float64(min) * mult), time.Duration(float64(max) * mult)
}

// UserID returns the per-session port the listener assigned this client.
func (c *Client) UserID() uint16 { return c.userID }
