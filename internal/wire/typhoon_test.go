package wire

import (
	"bytes"
	"testing"

	"algae/internal/crypto"
)

func newTyphoonPeers(t *testing.T) (listener, client *crypto.Asymmetric, sym *crypto.Symmetric) {
	t.Helper()
	listener, err := crypto.GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}
	client, err = crypto.NewAsymmetricPeer(listener.PublicKey())
	if err != nil {
		t.Fatalf("NewAsymmetricPeer: %v", err)
	}
	sym, err = crypto.GenerateSymmetric()
	if err != nil {
		t.Fatalf("GenerateSymmetric: %v", err)
	}
	return listener, client, sym
}

func TestTyphoonClientInitRoundTrip(t *testing.T) {
	listener, client, _ := newTyphoonPeers(t)

	msg := TyphoonClientInit{
		PacketNumber: PacketNumberNow(1_700_000_000_000),
		ClientName:   "desktop-01",
		NextIn:       DefaultMinNextIn,
		Token:        []byte("opaque-session-token"),
	}
	sessionKeyA, datagram, err := EncodeTyphoonClientInit(client, msg, MaxTailTyphoon)
	if err != nil {
		t.Fatalf("EncodeTyphoonClientInit: %v", err)
	}
	sessionKeyB, decoded, err := DecodeTyphoonClientInit(listener, datagram)
	if err != nil {
		t.Fatalf("DecodeTyphoonClientInit: %v", err)
	}
	if !bytes.Equal(sessionKeyA, sessionKeyB) {
		t.Fatal("derived session keys differ")
	}
	if decoded.PacketNumber != msg.PacketNumber || decoded.ClientName != msg.ClientName || decoded.NextIn != msg.NextIn {
		t.Fatalf("header mismatch: got %+v want %+v", decoded, msg)
	}
	if !bytes.Equal(decoded.Token, msg.Token) {
		t.Fatalf("token mismatch: got %x want %x", decoded.Token, msg.Token)
	}
}

func TestTyphoonServerInitRoundTrip(t *testing.T) {
	_, _, sym := newTyphoonPeers(t)

	wirebuf, err := EncodeTyphoonServerInit(sym, 42, StatusSuccess, 7, DefaultRTT, MaxTailTyphoon)
	if err != nil {
		t.Fatalf("EncodeTyphoonServerInit: %v", err)
	}
	packetNumber, status, userID, nextIn, err := DecodeTyphoonServerInit(sym, wirebuf)
	if err != nil {
		t.Fatalf("DecodeTyphoonServerInit: %v", err)
	}
	if packetNumber != 42 || status != StatusSuccess || userID != 7 || nextIn != DefaultRTT {
		t.Fatalf("unexpected fields: pn=%d status=%d uid=%d nextIn=%d", packetNumber, status, userID, nextIn)
	}
}

func TestTyphoonServerInitDenied(t *testing.T) {
	_, _, sym := newTyphoonPeers(t)

	wirebuf, err := EncodeTyphoonServerInit(sym, 1, StatusDenied, 0, DefaultMinNextIn, 0)
	if err != nil {
		t.Fatalf("EncodeTyphoonServerInit: %v", err)
	}
	_, status, _, _, err := DecodeTyphoonServerInit(sym, wirebuf)
	if err != nil {
		t.Fatalf("DecodeTyphoonServerInit: %v", err)
	}
	if status != StatusDenied {
		t.Fatalf("expected StatusDenied, got %d", status)
	}
}

func TestTyphoonHdskRoundTrip(t *testing.T) {
	_, _, sym := newTyphoonPeers(t)

	wirebuf, err := EncodeTyphoonHdsk(sym, 9, DefaultRTT, nil, MaxTailTyphoon)
	if err != nil {
		t.Fatalf("EncodeTyphoonHdsk: %v", err)
	}
	msg, err := DecodeTyphoonMessage(sym, wirebuf)
	if err != nil {
		t.Fatalf("DecodeTyphoonMessage: %v", err)
	}
	if msg.Kind != TyphoonHandshake || msg.PacketNumber != 9 || msg.NextIn != DefaultRTT {
		t.Fatalf("unexpected HDSK decode: %+v", msg)
	}
}

func TestTyphoonHdskDataShadowRide(t *testing.T) {
	_, _, sym := newTyphoonPeers(t)

	payload := bytes.Repeat([]byte{0x7A}, 256)
	wirebuf, err := EncodeTyphoonHdsk(sym, 10, DefaultRTT, payload, MaxTailTyphoon)
	if err != nil {
		t.Fatalf("EncodeTyphoonHdsk: %v", err)
	}
	msg, err := DecodeTyphoonMessage(sym, wirebuf)
	if err != nil {
		t.Fatalf("DecodeTyphoonMessage: %v", err)
	}
	if msg.Kind != TyphoonHandshakeData {
		t.Fatalf("expected TyphoonHandshakeData, got %v", msg.Kind)
	}
	if !bytes.Equal(msg.Data, payload) {
		t.Fatalf("shadow-ride payload mismatch: got %x want %x", msg.Data, payload)
	}
}

func TestTyphoonDataRoundTrip(t *testing.T) {
	_, _, sym := newTyphoonPeers(t)

	payload := []byte("tunnel packet bytes")
	wirebuf, err := EncodeTyphoonData(sym, payload, MaxTailTyphoon)
	if err != nil {
		t.Fatalf("EncodeTyphoonData: %v", err)
	}
	msg, err := DecodeTyphoonMessage(sym, wirebuf)
	if err != nil {
		t.Fatalf("DecodeTyphoonMessage: %v", err)
	}
	if msg.Kind != TyphoonData || !bytes.Equal(msg.Data, payload) {
		t.Fatalf("unexpected DATA decode: %+v", msg)
	}
}

func TestTyphoonTermRoundTrip(t *testing.T) {
	_, _, sym := newTyphoonPeers(t)

	wirebuf, err := EncodeTyphoonTerm(sym, MaxTailTyphoon)
	if err != nil {
		t.Fatalf("EncodeTyphoonTerm: %v", err)
	}
	msg, err := DecodeTyphoonMessage(sym, wirebuf)
	if err != nil {
		t.Fatalf("DecodeTyphoonMessage: %v", err)
	}
	if msg.Kind != TyphoonTermination {
		t.Fatalf("expected TyphoonTermination, got %v", msg.Kind)
	}
}

func TestTyphoonMalformedFlagsRejected(t *testing.T) {
	_, _, sym := newTyphoonPeers(t)

	bad := append([]byte{byte(FlagInit | FlagTerm)}, bytes.Repeat([]byte{0}, 16)...)
	sealed, err := sym.Seal(bad, nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := DecodeTyphoonMessage(sym, sealed); err == nil {
		t.Fatal("expected malformed flags to be rejected")
	}
}

func TestNextInRange(t *testing.T) {
	min, max := NextInRange(true, DefaultMinNextIn, DefaultMaxNextIn, DefaultInitialNextInMult)
	if min == 0 || max == 0 || min >= DefaultMinNextIn || max >= DefaultMaxNextIn {
		t.Fatalf("expected scaled-down initial range, got [%d, %d]", min, max)
	}
	min, max = NextInRange(false, DefaultMinNextIn, DefaultMaxNextIn, DefaultInitialNextInMult)
	if min != DefaultMinNextIn || max != DefaultMaxNextIn {
		t.Fatalf("expected steady range to equal bounds, got [%d, %d]", min, max)
	}
}
