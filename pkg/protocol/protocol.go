// Package protocol implements the reliable, ordered, encrypted packet layer
// carrying game messages between two peers. It provides binary framing with
// checksum verification, a sequence-keyed stream cipher, sliding-window
// duplicate/replay filtering, and acknowledgment-driven retransmission with
// per-category timeout policy.
//
// The protocol uses a binary packet format with a fixed-size header and a
// variable-length payload. All multi-byte fields are big-endian.
package protocol

import (
	"encoding/binary"
	"time"
)

// Packet types carried in the header's type field.
const (
	PacketGameUpdate     byte = iota + 1 // general game event
	PacketPlayerMove                     // player firing coordinates
	PacketBoardUpdate                    // board grid snapshot
	PacketChatMessage                    // peer-to-peer chat
	PacketSystemMessage                  // prompts and notices
	PacketRetransmission                 // request re-send of a sequence
	PacketAck                            // acknowledge a sequence
	PacketGameState                      // critical game lifecycle message
)

// Packet field sizes in bytes.
const (
	TypeSize     = 1 // packet type field
	SequenceSize = 1 // sequence number field
	ChecksumSize = 2 // checksum field
	LengthSize   = 2 // payload length field
	HeaderSize   = TypeSize + SequenceSize + ChecksumSize + LengthSize

	// MaxPayloadSize is bounded by the 16-bit length field.
	MaxPayloadSize = 0xFFFF
)

// Packet represents a protocol message with the following binary format:
//
//	+------+----------+----------+----------------+---------+
//	| Type | Sequence | Checksum | Payload Length | Payload |
//	+------+----------+----------+----------------+---------+
//	|  1B  |    1B    |    2B    |       2B       |   var   |
//
// Payload holds the bytes exactly as carried on the wire, which for data
// packets is ciphertext. The checksum covers the header minus the checksum
// field itself, followed by the wire payload.
type Packet struct {
	Type     byte
	Sequence uint8
	Checksum uint16
	Payload  []byte

	// CreatedAt records when the packet was built or parsed. It is not
	// part of the wire format.
	CreatedAt time.Time
}

// validType reports whether t is a known packet type.
func validType(t byte) bool {
	return t >= PacketGameUpdate && t <= PacketGameState
}

// checksum computes the 16-bit sum (mod 65536) over the header bytes
// excluding the checksum field, concatenated with the payload.
func checksum(typ byte, seq uint8, payload []byte) uint16 {
	var lenBytes [LengthSize]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(payload)))

	total := uint32(typ) + uint32(seq) + uint32(lenBytes[0]) + uint32(lenBytes[1])
	for _, b := range payload {
		total += uint32(b)
	}
	return uint16(total) // uint16 conversion is the mod 65536
}

// Pack serializes a packet into wire format. The payload is used verbatim;
// callers encrypt before packing. Payloads longer than MaxPayloadSize are
// rejected with a FramingError.
func Pack(typ byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &FramingError{Reason: "payload too large", Got: len(payload), Want: MaxPayloadSize}
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = typ
	buf[1] = seq
	binary.BigEndian.PutUint16(buf[2:4], checksum(typ, seq, payload))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// Unpack parses a wire frame into a Packet. It returns a FramingError when
// the frame is shorter than the header or the declared payload length does
// not match the bytes present, and a ChecksumError when the recomputed
// checksum disagrees with the embedded one. Both are recoverable: the caller
// discards the frame and requests retransmission.
func Unpack(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, &FramingError{Reason: "frame too short", Got: len(data), Want: HeaderSize}
	}

	if !validType(data[0]) {
		return nil, &FramingError{Reason: "unknown packet type", Got: int(data[0]), Want: int(PacketGameState)}
	}

	declared := int(binary.BigEndian.Uint16(data[4:6]))
	if len(data)-HeaderSize != declared {
		return nil, &FramingError{Reason: "payload length mismatch", Got: len(data) - HeaderSize, Want: declared}
	}

	p := &Packet{
		Type:      data[0],
		Sequence:  data[1],
		Checksum:  binary.BigEndian.Uint16(data[2:4]),
		CreatedAt: time.Now(),
	}
	if declared > 0 {
		p.Payload = make([]byte, declared)
		copy(p.Payload, data[HeaderSize:])
	}

	if want := checksum(p.Type, p.Sequence, p.Payload); want != p.Checksum {
		return nil, &ChecksumError{Sequence: p.Sequence, Got: p.Checksum, Want: want}
	}

	return p, nil
}
