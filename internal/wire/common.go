// Package wire implements the pure encode/decode layer for the PORT and
// TYPHOON message formats (§4.2-§4.4). It is stateless: every function
// here is deterministic given its inputs and whatever randomness the
// crypto.rand source supplies for nonces and padding.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
)

// Flags identifies the kind of a PORT/TYPHOON message. Values are a
// bitfield; HDSK|DATA is a valid combination ("shadow-ride").
type Flags byte

const (
	FlagInit Flags = 128
	FlagHdsk Flags = 64
	FlagData Flags = 32
	FlagTerm Flags = 16
)

func (f Flags) String() string {
	switch f {
	case FlagInit:
		return "INIT"
	case FlagHdsk:
		return "HDSK"
	case FlagData:
		return "DATA"
	case FlagTerm:
		return "TERM"
	case FlagHdsk | FlagData:
		return "HDSK|DATA"
	default:
		return fmt.Sprintf("Flags(%d)", byte(f))
	}
}

// Has reports whether all bits of mask are set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// RandomTailLength picks a tail length uniformly in [0, max], independently
// of any other draw, per §4.2's traffic-analysis-resistance padding.
func RandomTailLength(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)+1))
	if err != nil {
		return 0, fmt.Errorf("wire: drawing random tail length: %w", err)
	}
	return int(n.Int64()), nil
}

// RandomTail draws a random tail of the given length.
func RandomTail(length int) ([]byte, error) {
	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("wire: drawing random tail: %w", err)
	}
	return buf, nil
}

// AppendRandomTail appends a random tail of random length in [0, maxTail]
// to buf and returns the new slice along with the chosen tail length (the
// latter is needed by callers that must record it in a header field).
func AppendRandomTail(buf []byte, maxTail int) ([]byte, int, error) {
	n, err := RandomTailLength(maxTail)
	if err != nil {
		return nil, 0, err
	}
	tail, err := RandomTail(n)
	if err != nil {
		return nil, 0, err
	}
	return append(buf, tail...), n, nil
}

func putUint16(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func putUint32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func getUint16(buf []byte) uint16    { return binary.BigEndian.Uint16(buf) }
func getUint32(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }

// Status is the result code carried by a server INIT message: zero means
// success, non-zero is fatal to the handshake (§4.3, §4.4.1).
type Status byte

const (
	StatusSuccess Status = 0
	StatusDenied  Status = 1
)

// PacketNumberNow returns the low 32 bits of the current Unix time in
// milliseconds, the definition of "packet number" used throughout §4.4.
func PacketNumberNow(nowUnixMilli int64) uint32 {
	return uint32(uint64(nowUnixMilli) % (1 << 32))
}
