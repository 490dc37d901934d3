package port

import (
	"context"
	"net"

	"algae/internal/crypto"
)

// Server is the whirlpool-side PORT endpoint for one client's data
// connection (§4.3, §4.7).
type Server struct {
	peer
	clientName string
	userID     uint16
}

// ClientName returns the name the client presented at handshake time.
func (s *Server) ClientName() string { return s.clientName }

// UserID returns the per-session port this server was bound to.
func (s *Server) UserID() uint16 { return s.userID }

func (s *Server) Read(ctx context.Context) ([]byte, error)     { return s.readMessage(ctx) }
func (s *Server) Write(ctx context.Context, data []byte) error { return s.writeData(ctx, data) }
func (s *Server) Close() error {
	err := s.writeTerm()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func newServer(conn net.Conn, sym *crypto.Symmetric, maxTail int, clientName string, userID uint16) *Server {
	return &Server{peer: peer{conn: conn, sym: sym, maxTail: maxTail}, clientName: clientName, userID: userID}
}
