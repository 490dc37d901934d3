// Package control implements the mutual-TLS RPC client used exclusively
// to mint sessions (§6.2): one `authenticate` call yields everything a
// session coordinator needs to build a transport endpoint, and an
// optional one-shot healthcheck probes the control plane before that
// call. Grounded on postalsys-Muti-Metroo's
// internal/control.Client (the same get-then-decode-JSON shape) and its
// internal/transport h2/quic dialers for the TLS wiring.
package control

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
)

// Config describes how to reach and authenticate to a node's control
// plane (§6.2, §6.3).
type Config struct {
	Address        string
	ControlPort    int
	RootCAPath     string
	ClientCertPath string // optional: mutual TLS client certificate
	ClientKeyPath  string

	// UseHTTP3 selects quic-go's HTTP/3 RoundTripper instead of HTTP/2
	// for the control dial (§2.9) — never for tunnel payload, only for
	// this RPC.
	UseHTTP3 bool
}

// Session is what `authenticate` mints: everything needed to build a
// transport endpoint and report a DNS resolver to the tunnel (§3.1,
// §4.6 step 1).
type Session struct {
	PublicKey   []byte
	Token       []byte
	TyphoonPort uint16
	PortPort    uint16
	DNS         string
}

type authenticateRequest struct {
	Identifier string `json:"identifier"`
	APIKey     string `json:"api_key,omitempty"`
	Name       string `json:"name,omitempty"`
	Days       int    `json:"days,omitempty"`
}

type authenticateResponse struct {
	PublicKey   string `json:"public_key"`
	Token       string `json:"token"`
	TyphoonPort uint16 `json:"typhoon_port"`
	PortPort    uint16 `json:"port_port"`
	DNS         string `json:"dns"`
}

// Client is one control session: an HTTP client bound to the mTLS
// transport, plus the node's base URL.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Client against cfg, loading the root CA (and, if
// configured, the client certificate) up front so misconfiguration
// fails at construction rather than on the first request.
func NewClient(cfg Config) (*Client, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper
	if cfg.UseHTTP3 {
		rt = &http3.RoundTripper{TLSClientConfig: tlsConfig}
	} else {
		rt = &http2.Transport{TLSClientConfig: tlsConfig}
	}

	return &Client{
		httpClient: &http.Client{Transport: rt, Timeout: 10 * time.Second},
		baseURL:    fmt.Sprintf("https://%s:%d", cfg.Address, cfg.ControlPort),
	}, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if cfg.RootCAPath != "" {
		pem, err := os.ReadFile(cfg.RootCAPath)
		if err != nil {
			return nil, fmt.Errorf("control: reading root CA %q: %w", cfg.RootCAPath, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("control: no certificates found in %q", cfg.RootCAPath)
		}
	}

	tlsConfig := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}
	if cfg.ClientCertPath != "" && cfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("control: loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Authenticate mints a session (§6.2).
func (c *Client) Authenticate(ctx context.Context, identifier, apiKey, name string, days int) (*Session, error) {
	reqBody, err := json.Marshal(authenticateRequest{Identifier: identifier, APIKey: apiKey, Name: name, Days: days})
	if err != nil {
		return nil, fmt.Errorf("control: encoding authenticate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/authenticate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("control: building authenticate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control: authenticate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control: authenticate rejected with status %d", resp.StatusCode)
	}
	return decodeAuthenticateResponse(resp.Body)
}

func decodeAuthenticateResponse(body io.Reader) (*Session, error) {
	var wire authenticateResponse
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("control: decoding authenticate response: %w", err)
	}
	publicKey, err := hex.DecodeString(wire.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("control: decoding public_key: %w", err)
	}
	token, err := hex.DecodeString(wire.Token)
	if err != nil {
		return nil, fmt.Errorf("control: decoding token: %w", err)
	}
	return &Session{
		PublicKey:   publicKey,
		Token:       token,
		TyphoonPort: wire.TyphoonPort,
		PortPort:    wire.PortPort,
		DNS:         wire.DNS,
	}, nil
}

// Healthcheck sends a single GET liveness probe (§6.2, optional and
// presentational only — it never gates the data path). Errors are the
// caller's to log or ignore.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("control: building healthcheck request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control: healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control: healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections. The control channel is closed as
// soon as the pump ends (§6.2).
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
