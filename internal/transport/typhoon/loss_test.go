package typhoon

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"algae/internal/crypto"
	"algae/internal/wire"
)

// lossyRelay forwards UDP datagrams between one client and one real
// listener, dropping a configurable number of listener->client
// datagrams before letting the rest through. It exists to reproduce
// S2 ("TYPHOON echo with loss") without teaching the client or
// listener anything about injectable transports.
type lossyRelay struct {
	conn       *net.UDPConn
	listenerAd *net.UDPAddr

	mu       sync.Mutex
	clientAd *net.UDPAddr
	drop     int
}

func newLossyRelay(t *testing.T, listenerAddr *net.UDPAddr, dropFirstN int) *lossyRelay {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	return &lossyRelay{conn: conn, listenerAd: listenerAddr, drop: dropFirstN}
}

func (r *lossyRelay) addr() *net.UDPAddr { return r.conn.LocalAddr().(*net.UDPAddr) }

func (r *lossyRelay) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, 65535+wire.MaxTailTyphoon+128)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		datagram := append([]byte(nil), buf[:n]...)

		if from.IP.Equal(r.listenerAd.IP) && from.Port == r.listenerAd.Port {
			r.mu.Lock()
			clientAd := r.clientAd
			shouldDrop := r.drop > 0
			if shouldDrop {
				r.drop--
			}
			r.mu.Unlock()
			if shouldDrop || clientAd == nil {
				continue // simulates the network eating the first Server-INIT
			}
			_, _ = r.conn.WriteToUDP(datagram, clientAd)
			continue
		}

		r.mu.Lock()
		r.clientAd = from
		r.mu.Unlock()
		_, _ = r.conn.WriteToUDP(datagram, r.listenerAd)
	}
}

// TestTyphoonHandshakeSurvivesDroppedServerInit exercises property 5
// and scenario S2: a network that eats the first Server-INIT must
// still let the handshake converge via retransmission, well within
// MaxRetries.
func TestTyphoonHandshakeSurvivesDroppedServerInit(t *testing.T) {
	listenerAsym, err := crypto.GenerateAsymmetric()
	require.NoError(t, err)
	peerPublicKey := listenerAsym.PublicKey()

	cfg := fastTestConfig()
	log := zerolog.Nop()

	seed := seedFromKeypair(t, listenerAsym)
	ln, err := Listen("127.0.0.1", 0, seed, cfg, log, nil)
	require.NoError(t, err)
	defer ln.Close()

	listenerAddr := ln.conn.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverData := make(chan []byte, 4)
	go func() {
		_ = ln.Serve(ctx, func(clientName string, token []byte) wire.Status {
			return wire.StatusSuccess
		}, func(userID uint16, data []byte) {
			serverData <- data
		})
	}()

	relay := newLossyRelay(t, listenerAddr, 1)
	defer relay.conn.Close()
	go relay.run(ctx)

	client, err := Dial(ctx, "127.0.0.1", relay.addr().Port, peerPublicKey, "test-client", []byte("token"), cfg, log, nil)
	require.NoError(t, err, "handshake must converge despite the dropped first Server-INIT")
	defer client.Close()

	require.NoError(t, client.Write(ctx, []byte("ping")))

	select {
	case data := <-serverData:
		require.Equal(t, "ping", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive data after a lossy handshake")
	}
}
