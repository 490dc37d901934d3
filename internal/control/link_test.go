package control

import "testing"

func TestParseLinkRoundTrip(t *testing.T) {
	raw := "seaside+whirlpool://node.example.com:8080/atlantic?public=aabbcc&payload=112233"

	link, err := ParseLink(raw)
	if err != nil {
		t.Fatalf("ParseLink: %v", err)
	}
	if link.NodeType != "whirlpool" {
		t.Errorf("NodeType = %q, want whirlpool", link.NodeType)
	}
	if link.Host != "node.example.com" {
		t.Errorf("Host = %q", link.Host)
	}
	if link.ControlPort != 8080 {
		t.Errorf("ControlPort = %d, want 8080", link.ControlPort)
	}
	if link.Anchor != "atlantic" {
		t.Errorf("Anchor = %q, want atlantic", link.Anchor)
	}
	if string(link.PublicKey) != "\xaa\xbb\xcc" {
		t.Errorf("PublicKey = %x", link.PublicKey)
	}
	if string(link.Token) != "\x11\x22\x33" {
		t.Errorf("Token = %x", link.Token)
	}

	roundTripped, err := ParseLink(link.String())
	if err != nil {
		t.Fatalf("ParseLink(String()): %v", err)
	}
	if roundTripped.Host != link.Host || roundTripped.ControlPort != link.ControlPort {
		t.Fatalf("round trip mismatch: %+v vs %+v", roundTripped, link)
	}
}

func TestParseLinkRejectsWrongScheme(t *testing.T) {
	if _, err := ParseLink("https://node.example.com:8080/atlantic?public=aa&payload=bb"); err == nil {
		t.Fatal("expected an error for a non seaside+ scheme")
	}
}

func TestParseLinkRejectsMissingPort(t *testing.T) {
	if _, err := ParseLink("seaside+whirlpool://node.example.com/atlantic?public=aa&payload=bb"); err == nil {
		t.Fatal("expected an error for a missing port")
	}
}

func TestParseLinkRejectsMalformedHex(t *testing.T) {
	if _, err := ParseLink("seaside+whirlpool://node.example.com:8080/atlantic?public=zz&payload=bb"); err == nil {
		t.Fatal("expected an error for a malformed public key")
	}
}
