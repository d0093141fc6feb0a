// Package protocol implements the wire format shared by the sender and
// receiver: a one-byte type discriminant followed by fixed-width big-endian
// fields. Three message kinds exist: the session Config sent once during the
// handshake, the Fragment datagrams carrying slices of encoded frames, and
// the Ack feedback messages returned for every received fragment.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Message type discriminants
const (
	TypeConfig   = uint8(0x01)
	TypeFragment = uint8(0x02)
	TypeAck      = uint8(0x03)
)

// Header sizes in bytes, including the type discriminant.
const (
	ConfigSize         = 1 + 2 + 2 + 2 + 4
	FragmentHeaderSize = 1 + 4 + 1 + 2 + 2 + 8
	AckSize            = 1 + 4 + 2 + 8 + 8
)

// Frame types carried in a fragment header.
const (
	FrameTypeKey   = uint8(0)
	FrameTypeDelta = uint8(1)
)

// Maximum payload carried by one fragment. Datagrams larger than this are
// rejected during decode; the sender never produces them.
const MaxPayloadSize = 1500

// ErrParse indicates malformed or invalid bytes. Messages failing to decode
// are dropped and the receive loop continues.
var ErrParse = errors.New("parse error")

// Message is implemented by every wire message kind.
type Message interface {
	// Serialize encodes the message to its wire representation.
	Serialize() []byte
}

// Config is the session configuration negotiated once during the handshake.
// All fields must be positive.
type Config struct {
	Width         uint16
	Height        uint16
	FrameRate     uint16
	TargetBitrate uint32 // bits per second
}

// Fragment is one datagram-sized slice of an encoded video frame.
type Fragment struct {
	FrameID         uint32
	FrameType       uint8
	FragIndex       uint16
	FragCount       uint16
	SendTimestampUs uint64
	Payload         []byte
}

// Ack reports receipt of a single fragment back to the sender. It echoes the
// fragment's identifying and timing fields and adds the receive timestamp so
// the sender can estimate loss and latency.
type Ack struct {
	FrameID         uint32
	FragIndex       uint16
	SendTimestampUs uint64
	RecvTimestampUs uint64
}

// IsLast reports whether this fragment is the final one of its frame.
func (f *Fragment) IsLast() bool {
	return f.FragIndex == f.FragCount-1
}

// Serialize encodes the config message.
func (c *Config) Serialize() []byte {
	buf := make([]byte, ConfigSize)
	buf[0] = TypeConfig
	binary.BigEndian.PutUint16(buf[1:3], c.Width)
	binary.BigEndian.PutUint16(buf[3:5], c.Height)
	binary.BigEndian.PutUint16(buf[5:7], c.FrameRate)
	binary.BigEndian.PutUint32(buf[7:11], c.TargetBitrate)
	return buf
}

// Serialize encodes the fragment header followed by its payload.
func (f *Fragment) Serialize() []byte {
	buf := make([]byte, FragmentHeaderSize+len(f.Payload))
	buf[0] = TypeFragment
	binary.BigEndian.PutUint32(buf[1:5], f.FrameID)
	buf[5] = f.FrameType
	binary.BigEndian.PutUint16(buf[6:8], f.FragIndex)
	binary.BigEndian.PutUint16(buf[8:10], f.FragCount)
	binary.BigEndian.PutUint64(buf[10:18], f.SendTimestampUs)
	copy(buf[FragmentHeaderSize:], f.Payload)
	return buf
}

// Serialize encodes the ack message.
func (a *Ack) Serialize() []byte {
	buf := make([]byte, AckSize)
	buf[0] = TypeAck
	binary.BigEndian.PutUint32(buf[1:5], a.FrameID)
	binary.BigEndian.PutUint16(buf[5:7], a.FragIndex)
	binary.BigEndian.PutUint64(buf[7:15], a.SendTimestampUs)
	binary.BigEndian.PutUint64(buf[15:23], a.RecvTimestampUs)
	return buf
}

// Decode parses one datagram into a typed message. Validation is
// all-or-nothing: a message that cannot be fully validated is rejected with
// ErrParse and no partially populated message is ever returned.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrParse)
	}

	switch data[0] {
	case TypeConfig:
		return decodeConfig(data)
	case TypeFragment:
		return decodeFragment(data)
	case TypeAck:
		return decodeAck(data)
	default:
		return nil, fmt.Errorf("%w: unknown message type 0x%02x", ErrParse, data[0])
	}
}

func decodeConfig(data []byte) (*Config, error) {
	if len(data) != ConfigSize {
		return nil, fmt.Errorf("%w: config message has %d bytes, want %d", ErrParse, len(data), ConfigSize)
	}

	c := &Config{
		Width:         binary.BigEndian.Uint16(data[1:3]),
		Height:        binary.BigEndian.Uint16(data[3:5]),
		FrameRate:     binary.BigEndian.Uint16(data[5:7]),
		TargetBitrate: binary.BigEndian.Uint32(data[7:11]),
	}

	if c.Width == 0 || c.Height == 0 {
		return nil, fmt.Errorf("%w: zero frame dimensions %dx%d", ErrParse, c.Width, c.Height)
	}
	if c.FrameRate == 0 {
		return nil, fmt.Errorf("%w: zero frame rate", ErrParse)
	}
	if c.TargetBitrate == 0 {
		return nil, fmt.Errorf("%w: zero target bitrate", ErrParse)
	}

	return c, nil
}

func decodeFragment(data []byte) (*Fragment, error) {
	if len(data) < FragmentHeaderSize {
		return nil, fmt.Errorf("%w: truncated fragment header: %d bytes", ErrParse, len(data))
	}

	f := &Fragment{
		FrameID:         binary.BigEndian.Uint32(data[1:5]),
		FrameType:       data[5],
		FragIndex:       binary.BigEndian.Uint16(data[6:8]),
		FragCount:       binary.BigEndian.Uint16(data[8:10]),
		SendTimestampUs: binary.BigEndian.Uint64(data[10:18]),
	}

	if f.FrameType != FrameTypeKey && f.FrameType != FrameTypeDelta {
		return nil, fmt.Errorf("%w: unknown frame type %d", ErrParse, f.FrameType)
	}
	if f.FragCount == 0 {
		return nil, fmt.Errorf("%w: zero fragment count", ErrParse)
	}
	if f.FragIndex >= f.FragCount {
		return nil, fmt.Errorf("%w: fragment index %d out of range (count %d)", ErrParse, f.FragIndex, f.FragCount)
	}

	payload := data[FragmentHeaderSize:]
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload too large: %d bytes", ErrParse, len(payload))
	}

	// Copy the payload so the fragment does not alias the receive buffer.
	f.Payload = make([]byte, len(payload))
	copy(f.Payload, payload)

	return f, nil
}

func decodeAck(data []byte) (*Ack, error) {
	if len(data) != AckSize {
		return nil, fmt.Errorf("%w: ack message has %d bytes, want %d", ErrParse, len(data), AckSize)
	}

	return &Ack{
		FrameID:         binary.BigEndian.Uint32(data[1:5]),
		FragIndex:       binary.BigEndian.Uint16(data[5:7]),
		SendTimestampUs: binary.BigEndian.Uint64(data[7:15]),
		RecvTimestampUs: binary.BigEndian.Uint64(data[15:23]),
	}, nil
}
