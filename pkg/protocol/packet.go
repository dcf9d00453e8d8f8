package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Version is the only wire version this node speaks. Packets carrying any
// other version are dropped as malformed.
const Version = 1

// Wire header layout, all fields big-endian:
// ver(1) | type(1) | seq(4) | timestamp(8, IEEE-754 float64) | payload_len(2)
const HeaderSize = 16

// Message types
const (
	TypeHandshake uint8 = 0x01 // new peer joining, payload: JSON {id, role}
	TypeHeartbeat uint8 = 0x02 // keep-alive, empty payload
	TypeBitmap    uint8 = 0x03 // payload: JSON [[start, end], ...] chunk id ranges
	TypeRequest   uint8 = 0x04 // payload: decimal chunk id
	TypeData      uint8 = 0x05 // payload: chunk header + fragment bytes
	TypePeerList  uint8 = 0x06 // payload: JSON [{addr, role}, ...]
)

// ErrMalformed marks datagrams that fail structural validation. They are
// dropped without a reply; best-effort transport never notifies the sender.
var ErrMalformed = errors.New("malformed packet")

// Packet is one datagram on the wire.
type Packet struct {
	Ver       uint8
	Type      uint8
	Seq       uint32
	Timestamp float64
	Payload   []byte
}

// Encode serializes the packet into header + payload bytes.
func (p Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = p.Ver
	buf[1] = p.Type
	binary.BigEndian.PutUint32(buf[2:6], p.Seq)
	binary.BigEndian.PutUint64(buf[6:14], math.Float64bits(p.Timestamp))
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Decode parses a datagram. The declared payload length must equal the bytes
// actually received after the header; anything else is ErrMalformed, so
// structural corruption is caught without relying on transport framing.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformed, len(data), HeaderSize)
	}

	p := Packet{
		Ver:       data[0],
		Type:      data[1],
		Seq:       binary.BigEndian.Uint32(data[2:6]),
		Timestamp: math.Float64frombits(binary.BigEndian.Uint64(data[6:14])),
	}
	if p.Ver != Version {
		return Packet{}, fmt.Errorf("%w: unknown version %d", ErrMalformed, p.Ver)
	}

	declared := int(binary.BigEndian.Uint16(data[14:16]))
	if declared != len(data)-HeaderSize {
		return Packet{}, fmt.Errorf("%w: declared payload %d, got %d", ErrMalformed, declared, len(data)-HeaderSize)
	}

	if declared > 0 {
		p.Payload = make([]byte, declared)
		copy(p.Payload, data[HeaderSize:])
	}
	return p, nil
}
