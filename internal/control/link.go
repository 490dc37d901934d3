package control

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Link is a parsed connection link (§6.4):
//
//	seaside+whirlpool://<host>:<ctrl_port>/<anchor>?public=<hex>&payload=<token>
//
// NodeType is the part after "seaside+" (e.g. "whirlpool"); Anchor is a
// human-readable node label carried for display purposes only.
type Link struct {
	NodeType    string
	Host        string
	ControlPort int
	Anchor      string
	PublicKey   []byte
	Token       []byte
}

// ParseLink decodes raw into a Link, or reports why it could not.
func ParseLink(raw string) (*Link, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("control: parsing link: %w", err)
	}
	if !strings.HasPrefix(u.Scheme, "seaside+") {
		return nil, fmt.Errorf("control: unrecognized link scheme %q", u.Scheme)
	}
	nodeType := strings.TrimPrefix(u.Scheme, "seaside+")
	if nodeType == "" {
		return nil, fmt.Errorf("control: link scheme %q names no node type", u.Scheme)
	}

	host := u.Hostname()
	portStr := u.Port()
	if host == "" || portStr == "" {
		return nil, fmt.Errorf("control: link %q is missing host:port", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("control: link %q has a non-numeric port: %w", raw, err)
	}

	query := u.Query()
	publicKey, err := hex.DecodeString(query.Get("public"))
	if err != nil {
		return nil, fmt.Errorf("control: link %q has a malformed public key: %w", raw, err)
	}
	token, err := hex.DecodeString(query.Get("payload"))
	if err != nil {
		return nil, fmt.Errorf("control: link %q has a malformed payload: %w", raw, err)
	}

	return &Link{
		NodeType:    nodeType,
		Host:        host,
		ControlPort: port,
		Anchor:      strings.TrimPrefix(u.Path, "/"),
		PublicKey:   publicKey,
		Token:       token,
	}, nil
}

// String reconstructs the link, including the public key and token in
// full.
func (l *Link) String() string {
	u := url.URL{
		Scheme: "seaside+" + l.NodeType,
		Host:   fmt.Sprintf("%s:%d", l.Host, l.ControlPort),
		Path:   "/" + l.Anchor,
	}
	q := url.Values{}
	q.Set("public", hex.EncodeToString(l.PublicKey))
	q.Set("payload", hex.EncodeToString(l.Token))
	u.RawQuery = q.Encode()
	return u.String()
}
