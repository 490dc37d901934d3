package wire

import (
	"fmt"

	"algae/internal/crypto"
)

// TYPHOON protocol constants (§4.2, §4.4). All are overridable via
// TYPHOON_* environment variables at the config layer; these are the
// defaults.
const (
	DefaultMinNextIn         = 64   // ms
	DefaultMaxNextIn         = 256  // ms
	DefaultInitialNextInMult = 0.05 // initial range is [mult*min, mult*max]
	DefaultMinRTT            = 1000 // ms
	DefaultMaxRTT            = 8000 // ms
	DefaultRTT               = 5000 // ms
	DefaultRTTMult           = 4
	DefaultMinTimeout        = 4000 // ms
	DefaultMaxTimeout        = 32000 // ms
	DefaultMaxRetries        = 5
	MaxTailTyphoon           = 1024

	typhoonClientNameSize = 32

	typhoonClientInitHeaderPlain = 1 + 4 + typhoonClientNameSize + 4 + 2 // flags|packet_number|name|next_in|tail_len
	typhoonServerInitHeaderPlain = 1 + 4 + 1 + 2 + 4 + 2                 // flags|packet_number|status|user_id|next_in|tail_len
	typhoonHdskHeaderPlain       = 1 + 4 + 4 + 2                         // flags|packet_number|next_in|tail_len
	typhoonAnyHeaderPlain        = 1 + 2                                 // flags|tail_len
)

// TyphoonMessageKind distinguishes the parsed shape of a TYPHOON frame.
type TyphoonMessageKind int

const (
	TyphoonInit TyphoonMessageKind = iota
	TyphoonHandshake
	TyphoonHandshakeData
	TyphoonData
	TyphoonTermination
)

// TyphoonClientInit is the plaintext of a TYPHOON client INIT frame
// (§4.4.1), before it is asymmetrically sealed.
type TyphoonClientInit struct {
	PacketNumber uint32
	ClientName   string
	NextIn       uint32
	Token        []byte
}

// EncodeTyphoonClientInit builds the asymmetric-sealed wire bytes for a
// TYPHOON client INIT. The whole frame (header, token and tail) is a
// single envelope, per §4.4.1.
func EncodeTyphoonClientInit(asym *crypto.Asymmetric, msg TyphoonClientInit, maxTail int) (sessionKey, wirebuf []byte, err error) {
	plain, _, err := buildTyphoonPlain(func(b []byte) []byte {
		b = append(b, byte(FlagInit))
		b = appendUint32(b, msg.PacketNumber)
		b = append(b, encodeClientName(msg.ClientName)...)
		b = appendUint32(b, msg.NextIn)
		return b
	}, msg.Token, maxTail)
	if err != nil {
		return nil, nil, err
	}
	sessionKey, sealed, err := asym.Seal(plain)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: sealing TYPHOON client INIT: %w", err)
	}
	return sessionKey, sealed, nil
}

// DecodeTyphoonClientInit opens a TYPHOON client INIT datagram.
func DecodeTyphoonClientInit(asym *crypto.Asymmetric, datagram []byte) (sessionKey []byte, msg TyphoonClientInit, err error) {
	sessionKey, plain, err := asym.Open(datagram)
	if err != nil {
		return nil, TyphoonClientInit{}, fmt.Errorf("wire: opening TYPHOON client INIT: %w", err)
	}
	if len(plain) < typhoonClientInitHeaderPlain {
		return nil, TyphoonClientInit{}, fmt.Errorf("wire: TYPHOON client INIT too short: %d bytes", len(plain))
	}
	if Flags(plain[0]) != FlagInit {
		return nil, TyphoonClientInit{}, fmt.Errorf("wire: TYPHOON client INIT flags malformed: %s", Flags(plain[0]))
	}
	offset := 1
	packetNumber := getUint32(plain[offset : offset+4])
	offset += 4
	clientName := decodeClientName(plain[offset : offset+typhoonClientNameSize])
	offset += typhoonClientNameSize
	nextIn := getUint32(plain[offset : offset+4])
	offset += 4
	tailLen := int(getUint16(plain[offset : offset+2]))
	offset += 2
	body := plain[offset:]
	if tailLen > len(body) {
		return nil, TyphoonClientInit{}, fmt.Errorf("wire: TYPHOON client INIT tail length %d exceeds body %d", tailLen, len(body))
	}
	token := append([]byte(nil), body[:len(body)-tailLen]...)
	return sessionKey, TyphoonClientInit{PacketNumber: packetNumber, ClientName: clientName, NextIn: nextIn, Token: token}, nil
}

// EncodeTyphoonServerInit builds the wire bytes for a TYPHOON server INIT.
func EncodeTyphoonServerInit(sym *crypto.Symmetric, packetNumber uint32, status Status, userID uint16, nextIn uint32, maxTail int) ([]byte, error) {
	plain, _, err := buildTyphoonPlain(func(b []byte) []byte {
		b = append(b, byte(FlagInit))
		b = appendUint32(b, packetNumber)
		b = append(b, byte(status))
		b = appendUint16(b, userID)
		b = appendUint32(b, nextIn)
		return b
	}, nil, maxTail)
	if err != nil {
		return nil, err
	}
	sealed, err := sym.Seal(plain, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: sealing TYPHOON server INIT: %w", err)
	}
	return sealed, nil
}

// DecodeTyphoonServerInit opens a TYPHOON server INIT datagram.
func DecodeTyphoonServerInit(sym *crypto.Symmetric, datagram []byte) (packetNumber uint32, status Status, userID uint16, nextIn uint32, err error) {
	plain, err := sym.Open(datagram, nil)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("wire: opening TYPHOON server INIT: %w", err)
	}
	if len(plain) < typhoonServerInitHeaderPlain {
		return 0, 0, 0, 0, fmt.Errorf("wire: TYPHOON server INIT too short: %d bytes", len(plain))
	}
	if Flags(plain[0]) != FlagInit {
		return 0, 0, 0, 0, fmt.Errorf("wire: TYPHOON server INIT flags malformed: %s", Flags(plain[0]))
	}
	packetNumber = getUint32(plain[1:5])
	status = Status(plain[5])
	userID = getUint16(plain[6:8])
	nextIn = getUint32(plain[8:12])
	return packetNumber, status, userID, nextIn, nil
}

// EncodeTyphoonHdsk builds an HDSK or HDSK|DATA frame. data may be nil for
// a bare keep-alive.
func EncodeTyphoonHdsk(sym *crypto.Symmetric, packetNumber, nextIn uint32, data []byte, maxTail int) ([]byte, error) {
	flags := FlagHdsk
	if data != nil {
		flags |= FlagData
	}
	plain, _, err := buildTyphoonPlain(func(b []byte) []byte {
		b = append(b, byte(flags))
		b = appendUint32(b, packetNumber)
		b = appendUint32(b, nextIn)
		return b
	}, data, maxTail)
	if err != nil {
		return nil, err
	}
	sealed, err := sym.Seal(plain, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: sealing TYPHOON HDSK: %w", err)
	}
	return sealed, nil
}

// EncodeTyphoonData builds a bare DATA frame (no HDSK liveness payload).
func EncodeTyphoonData(sym *crypto.Symmetric, data []byte, maxTail int) ([]byte, error) {
	plain, _, err := buildTyphoonPlain(func(b []byte) []byte {
		return append(b, byte(FlagData))
	}, data, maxTail)
	if err != nil {
		return nil, err
	}
	sealed, err := sym.Seal(plain, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: sealing TYPHOON data: %w", err)
	}
	return sealed, nil
}

// EncodeTyphoonTerm builds a TERM frame.
func EncodeTyphoonTerm(sym *crypto.Symmetric, maxTail int) ([]byte, error) {
	plain, _, err := buildTyphoonPlain(func(b []byte) []byte {
		return append(b, byte(FlagTerm))
	}, nil, maxTail)
	if err != nil {
		return nil, err
	}
	sealed, err := sym.Seal(plain, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: sealing TYPHOON TERM: %w", err)
	}
	return sealed, nil
}

// TyphoonMessage is the result of decoding any non-INIT TYPHOON frame.
type TyphoonMessage struct {
	Kind         TyphoonMessageKind
	PacketNumber uint32
	NextIn       uint32
	Data         []byte
}

// DecodeTyphoonMessage opens and parses any TYPHOON frame other than an
// INIT (HDSK, HDSK|DATA, DATA or TERM), which can otherwise be confused
// with each other (§4.4.1).
func DecodeTyphoonMessage(sym *crypto.Symmetric, datagram []byte) (TyphoonMessage, error) {
	plain, err := sym.Open(datagram, nil)
	if err != nil {
		return TyphoonMessage{}, fmt.Errorf("wire: opening TYPHOON message: %w", err)
	}
	if len(plain) == 0 {
		return TyphoonMessage{}, fmt.Errorf("wire: empty TYPHOON message")
	}
	flags := Flags(plain[0])
	switch {
	case flags == FlagTerm:
		return TyphoonMessage{Kind: TyphoonTermination}, nil
	case flags == FlagData:
		if len(plain) < typhoonAnyHeaderPlain {
			return TyphoonMessage{}, fmt.Errorf("wire: TYPHOON DATA too short: %d bytes", len(plain))
		}
		tailLen := int(getUint16(plain[1:3]))
		body := plain[typhoonAnyHeaderPlain:]
		if tailLen > len(body) {
			return TyphoonMessage{}, fmt.Errorf("wire: TYPHOON DATA tail length %d exceeds body %d", tailLen, len(body))
		}
		data := append([]byte(nil), body[:len(body)-tailLen]...)
		return TyphoonMessage{Kind: TyphoonData, Data: data}, nil
	case flags == FlagHdsk || flags == (FlagHdsk|FlagData):
		if len(plain) < typhoonHdskHeaderPlain {
			return TyphoonMessage{}, fmt.Errorf("wire: TYPHOON HDSK too short: %d bytes", len(plain))
		}
		packetNumber := getUint32(plain[1:5])
		nextIn := getUint32(plain[5:9])
		tailLen := int(getUint16(plain[9:11]))
		body := plain[typhoonHdskHeaderPlain:]
		if tailLen > len(body) {
			return TyphoonMessage{}, fmt.Errorf("wire: TYPHOON HDSK tail length %d exceeds body %d", tailLen, len(body))
		}
		var data []byte
		kind := TyphoonHandshake
		if flags.Has(FlagData) {
			kind = TyphoonHandshakeData
			data = append([]byte(nil), body[:len(body)-tailLen]...)
		}
		return TyphoonMessage{Kind: kind, PacketNumber: packetNumber, NextIn: nextIn, Data: data}, nil
	default:
		return TyphoonMessage{}, fmt.Errorf("wire: TYPHOON message flags malformed: %s", flags)
	}
}

func appendUint16(b []byte, v uint16) []byte {
	buf := make([]byte, 2)
	putUint16(buf, v)
	return append(b, buf...)
}

func appendUint32(b []byte, v uint32) []byte {
	buf := make([]byte, 4)
	putUint32(buf, v)
	return append(b, buf...)
}

// buildTyphoonPlain assembles header||tail_len||body||tail: the bytes
// produced by writeHeader, then the 2-byte tail length this helper draws
// and appends itself, then body (the optional payload/token), then a
// random tail of that length.
func buildTyphoonPlain(writeHeader func([]byte) []byte, body []byte, maxTail int) ([]byte, int, error) {
	tailLen, err := RandomTailLength(maxTail)
	if err != nil {
		return nil, 0, err
	}
	header := writeHeader(make([]byte, 0, 64))
	header = appendUint16(header, uint16(tailLen))
	tail, err := RandomTail(tailLen)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, 0, len(header)+len(body)+tailLen)
	out = append(out, header...)
	out = append(out, body...)
	out = append(out, tail...)
	return out, tailLen, nil
}

// NextInRange returns the currently-valid [min, max] bounds for next_in,
// per §4.4.1's rejection rule: the initial range during handshake, the
// steady range afterward.
func NextInRange(initial bool, minNextIn, maxNextIn uint32, initialMult float64) (min, max uint32) {
	if !initial {
		return minNextIn, maxNextIn
	}
	return uint32(float64(minNextIn) * initialMult), uint32(float64(maxNextIn) * initialMult)
}
