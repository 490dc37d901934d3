package wire

import (
	"fmt"

	"algae/internal/crypto"
)

// PORT message sizes and constants (§4.3).
const (
	ClientNameSize = 32

	// MaxTailPort is the default upper bound for PORT's random tail,
	// overridable via PORT_MAX_TAIL (§4.2).
	MaxTailPort = 512

	portClientInitHeaderPlain = 1 + ClientNameSize + 2 + 2 // flags | name | token_ct_len | tail_len
	portServerInitHeaderPlain = 1 + 1 + 2 + 2               // flags | status | user_id | tail_len
	portAnyHeaderPlain        = 1 + 2 + 2                   // flags | data_ct_len | tail_len

	// PortClientInitHeaderSize is the fixed wire size of a PORT client
	// INIT's asymmetric-sealed header, i.e. the first thing a listener
	// must read off the handshake connection.
	PortClientInitHeaderSize = portClientInitHeaderPlain + crypto.AsymmetricOverhead

	// PortServerInitHeaderSize is the fixed wire size of a PORT server
	// INIT's symmetric-sealed header.
	PortServerInitHeaderSize = portServerInitHeaderPlain + crypto.SymmetricOverhead

	// PortAnyHeaderSize is the fixed wire size of a PORT DATA/TERM
	// symmetric-sealed header.
	PortAnyHeaderSize = portAnyHeaderPlain + crypto.SymmetricOverhead
)

func encodeClientName(name string) []byte {
	buf := make([]byte, ClientNameSize)
	copy(buf, name)
	return buf
}

func decodeClientName(buf []byte) string {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return string(buf[:end])
}

// EncodePortClientInit builds the wire bytes for a PORT client INIT: an
// asymmetric-sealed header, a symmetric-sealed token, and a random tail.
// It returns the freshly-derived session key alongside the wire bytes.
func EncodePortClientInit(asym *crypto.Asymmetric, clientName string, token []byte, maxTail int) (sessionKey, wirebuf []byte, err error) {
	tailLen, err := RandomTailLength(maxTail)
	if err != nil {
		return nil, nil, err
	}

	header := make([]byte, 0, portClientInitHeaderPlain)
	header = append(header, byte(FlagInit))
	header = append(header, encodeClientName(clientName)...)
	tokenCtLen := len(token) + crypto.SymmetricOverhead
	lenBuf := make([]byte, 2)
	putUint16(lenBuf, uint16(tokenCtLen))
	header = append(header, lenBuf...)
	putUint16(lenBuf, uint16(tailLen))
	header = append(header, lenBuf...)

	sessionKey, sealedHeader, err := asym.Seal(header)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: sealing PORT client INIT header: %w", err)
	}
	sym, err := crypto.NewSymmetric(sessionKey)
	if err != nil {
		return nil, nil, err
	}
	sealedToken, err := sym.Seal(token, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: sealing PORT client INIT token: %w", err)
	}
	tail, err := RandomTail(tailLen)
	if err != nil {
		return nil, nil, err
	}

	out := make([]byte, 0, len(sealedHeader)+len(sealedToken)+tailLen)
	out = append(out, sealedHeader...)
	out = append(out, sealedToken...)
	out = append(out, tail...)
	return sessionKey, out, nil
}

// DecodePortClientInitHeader opens the asymmetric-sealed header of a PORT
// client INIT. The caller must have already read exactly
// PortClientInitHeaderSize bytes from the connection.
func DecodePortClientInitHeader(asym *crypto.Asymmetric, headerBytes []byte) (sessionKey []byte, clientName string, tokenCtLen, tailLen int, err error) {
	if len(headerBytes) != PortClientInitHeaderSize {
		return nil, "", 0, 0, fmt.Errorf("wire: PORT client INIT header must be %d bytes, got %d", PortClientInitHeaderSize, len(headerBytes))
	}
	sessionKey, plain, err := asym.Open(headerBytes)
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("wire: opening PORT client INIT header: %w", err)
	}
	if len(plain) != portClientInitHeaderPlain {
		return nil, "", 0, 0, fmt.Errorf("wire: PORT client INIT header plaintext has wrong length: %d", len(plain))
	}
	if Flags(plain[0]) != FlagInit {
		return nil, "", 0, 0, fmt.Errorf("wire: PORT client INIT flags malformed: %s", Flags(plain[0]))
	}
	clientName = decodeClientName(plain[1 : 1+ClientNameSize])
	offset := 1 + ClientNameSize
	tokenCtLen = int(getUint16(plain[offset : offset+2]))
	tailLen = int(getUint16(plain[offset+2 : offset+4]))
	return sessionKey, clientName, tokenCtLen, tailLen, nil
}

// DecodePortToken opens the symmetric-sealed token segment that follows a
// PORT client INIT header.
func DecodePortToken(sym *crypto.Symmetric, tokenCiphertext []byte) ([]byte, error) {
	token, err := sym.Open(tokenCiphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: opening PORT client INIT token: %w", err)
	}
	return token, nil
}

// EncodePortServerInit builds the wire bytes for a PORT server INIT.
func EncodePortServerInit(sym *crypto.Symmetric, status Status, userID uint16, maxTail int) ([]byte, error) {
	tailLen, err := RandomTailLength(maxTail)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 0, portServerInitHeaderPlain)
	header = append(header, byte(FlagInit), byte(status))
	buf2 := make([]byte, 2)
	putUint16(buf2, userID)
	header = append(header, buf2...)
	putUint16(buf2, uint16(tailLen))
	header = append(header, buf2...)

	sealed, err := sym.Seal(header, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: sealing PORT server INIT: %w", err)
	}
	tail, err := RandomTail(tailLen)
	if err != nil {
		return nil, err
	}
	return append(sealed, tail...), nil
}

// DecodePortServerInit opens a PORT server INIT. The caller must have
// already read exactly PortServerInitHeaderSize bytes.
func DecodePortServerInit(sym *crypto.Symmetric, wirebuf []byte) (status Status, userID uint16, tailLen int, err error) {
	if len(wirebuf) != PortServerInitHeaderSize {
		return 0, 0, 0, fmt.Errorf("wire: PORT server INIT must be %d bytes, got %d", PortServerInitHeaderSize, len(wirebuf))
	}
	plain, err := sym.Open(wirebuf, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("wire: opening PORT server INIT: %w", err)
	}
	if len(plain) != portServerInitHeaderPlain {
		return 0, 0, 0, fmt.Errorf("wire: PORT server INIT plaintext has wrong length: %d", len(plain))
	}
	if Flags(plain[0]) != FlagInit {
		return 0, 0, 0, fmt.Errorf("wire: PORT server INIT flags malformed: %s", Flags(plain[0]))
	}
	status = Status(plain[1])
	userID = getUint16(plain[2:4])
	tailLen = int(getUint16(plain[4:6]))
	return status, userID, tailLen, nil
}

// PortMessageKind distinguishes DATA from TERMINATION after the shared
// header is parsed.
type PortMessageKind int

const (
	PortData PortMessageKind = iota
	PortTermination
)

// EncodePortData builds the wire bytes for a PORT DATA message: a
// symmetric-sealed header, a symmetric-sealed payload, and a random tail.
func EncodePortData(sym *crypto.Symmetric, payload []byte, maxTail int) ([]byte, error) {
	return encodePortAny(sym, FlagData, payload, maxTail)
}

// EncodePortTerm builds the wire bytes for a PORT TERM message.
func EncodePortTerm(sym *crypto.Symmetric, maxTail int) ([]byte, error) {
	return encodePortAny(sym, FlagTerm, nil, maxTail)
}

func encodePortAny(sym *crypto.Symmetric, flags Flags, payload []byte, maxTail int) ([]byte, error) {
	tailLen, err := RandomTailLength(maxTail)
	if err != nil {
		return nil, err
	}
	dataCtLen := 0
	var sealedData []byte
	if flags == FlagData {
		dataCtLen = len(payload) + crypto.SymmetricOverhead
		sealedData, err = sym.Seal(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("wire: sealing PORT data: %w", err)
		}
	}

	header := make([]byte, 0, portAnyHeaderPlain)
	header = append(header, byte(flags))
	buf2 := make([]byte, 2)
	putUint16(buf2, uint16(dataCtLen))
	header = append(header, buf2...)
	putUint16(buf2, uint16(tailLen))
	header = append(header, buf2...)

	sealedHeader, err := sym.Seal(header, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: sealing PORT header: %w", err)
	}
	tail, err := RandomTail(tailLen)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealedHeader)+len(sealedData)+tailLen)
	out = append(out, sealedHeader...)
	out = append(out, sealedData...)
	out = append(out, tail...)
	return out, nil
}

// DecodePortAnyHeader opens a PORT DATA/TERM header. The caller must have
// already read exactly PortAnyHeaderSize bytes.
func DecodePortAnyHeader(sym *crypto.Symmetric, headerBytes []byte) (kind PortMessageKind, dataCtLen, tailLen int, err error) {
	if len(headerBytes) != PortAnyHeaderSize {
		return 0, 0, 0, fmt.Errorf("wire: PORT header must be %d bytes, got %d", PortAnyHeaderSize, len(headerBytes))
	}
	plain, err := sym.Open(headerBytes, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("wire: opening PORT header: %w", err)
	}
	if len(plain) != portAnyHeaderPlain {
		return 0, 0, 0, fmt.Errorf("wire: PORT header plaintext has wrong length: %d", len(plain))
	}
	flags := Flags(plain[0])
	dataCtLen = int(getUint16(plain[1:3]))
	tailLen = int(getUint16(plain[3:5]))
	switch flags {
	case FlagData:
		return PortData, dataCtLen, tailLen, nil
	case FlagTerm:
		return PortTermination, dataCtLen, tailLen, nil
	default:
		return 0, 0, 0, fmt.Errorf("wire: PORT message flags malformed: %s", flags)
	}
}

// DecodePortData opens a PORT DATA payload.
func DecodePortData(sym *crypto.Symmetric, payloadCiphertext []byte) ([]byte, error) {
	data, err := sym.Open(payloadCiphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: opening PORT data: %w", err)
	}
	return data, nil
}
