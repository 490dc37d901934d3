package control

import (
	"strings"
	"testing"
)

func TestDecodeAuthenticateResponse(t *testing.T) {
	body := `{"public_key":"aabbcc","token":"11223344","typhoon_port":21073,"port_port":21074,"dns":"10.70.0.1"}`

	session, err := decodeAuthenticateResponse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decodeAuthenticateResponse: %v", err)
	}
	if string(session.PublicKey) != "\xaa\xbb\xcc" {
		t.Errorf("PublicKey = %x", session.PublicKey)
	}
	if string(session.Token) != "\x11\x22\x33\x44" {
		t.Errorf("Token = %x", session.Token)
	}
	if session.TyphoonPort != 21073 || session.PortPort != 21074 {
		t.Errorf("ports = %d/%d", session.TyphoonPort, session.PortPort)
	}
	if session.DNS != "10.70.0.1" {
		t.Errorf("DNS = %q", session.DNS)
	}
}

func TestDecodeAuthenticateResponseRejectsBadHex(t *testing.T) {
	body := `{"public_key":"not-hex","token":"11","typhoon_port":1,"port_port":2,"dns":"x"}`
	if _, err := decodeAuthenticateResponse(strings.NewReader(body)); err == nil {
		t.Fatal("expected an error for a malformed public_key field")
	}
}

func TestDecodeAuthenticateResponseRejectsMalformedJSON(t *testing.T) {
	if _, err := decodeAuthenticateResponse(strings.NewReader("not json")); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestBuildTLSConfigRejectsMissingRootCA(t *testing.T) {
	_, err := buildTLSConfig(Config{RootCAPath: "/nonexistent/ca.pem"})
	if err == nil {
		t.Fatal("expected an error for a missing root CA file")
	}
}

func TestBuildTLSConfigAllowsEmptyRootCA(t *testing.T) {
	tlsConfig, err := buildTLSConfig(Config{})
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if tlsConfig.RootCAs == nil {
		t.Fatal("expected a (possibly empty) cert pool, got nil")
	}
}
