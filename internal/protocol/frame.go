// Package protocol defines the frame format exchanged between peers over a
// Transport.
//
// Wire format:
//
//	Ping: [Type=1]
//	Pong: [Type=2]
//	Data: [Type=3][Channel:2B big-endian][Length:2B big-endian][Payload...]
package protocol

import "fmt"

// FrameType is the leading tag byte of every frame.
type FrameType uint8

const (
	TypePing FrameType = 0x01
	TypePong FrameType = 0x02
	TypeData FrameType = 0x03
)

// DataHeaderSize is the fixed header size of a Data frame: Type(1) + Channel(2) + Length(2).
const DataHeaderSize = 5

// MaxPayloadSize is the largest payload a single Data frame can carry.
const MaxPayloadSize = 0xFFFF

// MaxFrameSize is the largest encoded frame.
const MaxFrameSize = DataHeaderSize + MaxPayloadSize

// Frame is one decoded protocol message. Channel and Payload are only
// meaningful for TypeData.
type Frame struct {
	Type    FrameType
	Channel uint16
	Payload []byte
}

// Ping returns a Ping frame.
func Ping() *Frame { return &Frame{Type: TypePing} }

// Pong returns a Pong frame.
func Pong() *Frame { return &Frame{Type: TypePong} }

// Data returns a Data frame for the given channel.
func Data(channel uint16, payload []byte) *Frame {
	return &Frame{Type: TypeData, Channel: channel, Payload: payload}
}

func (t FrameType) String() string {
	switch t {
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeData:
		return "data"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t FrameType) valid() bool {
	return t == TypePing || t == TypePong || t == TypeData
}
