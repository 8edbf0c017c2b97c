package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnknownFrameType is returned when the tag byte is not a known frame type.
	// It is a protocol violation, not a request for more data.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrPayloadTooLarge is returned by Encode when a Data payload does not fit
	// in the 16-bit length field. Payloads are never truncated.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Encode serializes a Frame into a byte slice ready to be written to the wire.
func Encode(f *Frame) ([]byte, error) {
	return Append(nil, f)
}

// Append appends the encoding of f to dst.
func Append(dst []byte, f *Frame) ([]byte, error) {
	switch f.Type {
	case TypePing, TypePong:
		return append(dst, byte(f.Type)), nil
	case TypeData:
		if len(f.Payload) > MaxPayloadSize {
			return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.Payload), MaxPayloadSize)
		}
		dst = append(dst, byte(TypeData))
		dst = binary.BigEndian.AppendUint16(dst, f.Channel)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(f.Payload)))
		return append(dst, f.Payload...), nil
	default:
		return dst, fmt.Errorf("%w: %d", ErrUnknownFrameType, uint8(f.Type))
	}
}

// Decode parses one frame from the front of buf.
//
// It returns the frame and the number of bytes it occupied. When buf holds
// only part of a frame, Decode returns (nil, 0, nil) and the caller should
// retry once more bytes are buffered. The payload is copied, so buf may be
// reused after the call.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}

	typ := FrameType(buf[0])
	if !typ.valid() {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownFrameType, buf[0])
	}
	if typ != TypeData {
		return &Frame{Type: typ}, 1, nil
	}

	if len(buf) < DataHeaderSize {
		return nil, 0, nil
	}
	channel := binary.BigEndian.Uint16(buf[1:3])
	length := int(binary.BigEndian.Uint16(buf[3:5]))
	if len(buf) < DataHeaderSize+length {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[DataHeaderSize:DataHeaderSize+length])
	return &Frame{Type: TypeData, Channel: channel, Payload: payload}, DataHeaderSize + length, nil
}

// Reader decodes a stream of frames from an io.Reader whose reads may split
// frames at arbitrary byte boundaries.
type Reader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	err   error
}

// NewReader returns a Reader that pulls bytes from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:     r,
		chunk: make([]byte, 32*1024),
	}
}

// ReadFrame blocks until one complete frame is buffered and returns it.
//
// Decode errors are returned as-is. When the underlying reader fails, frames
// that are already complete are still returned first; a stream that ends in
// the middle of a frame yields io.ErrUnexpectedEOF.
func (r *Reader) ReadFrame() (*Frame, error) {
	for {
		f, n, err := Decode(r.buf)
		if err != nil {
			return nil, err
		}
		if f != nil {
			r.buf = r.buf[n:]
			return f, nil
		}

		if r.err != nil {
			if r.err == io.EOF && len(r.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, r.err
		}

		n, err = r.r.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil {
			r.err = err
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet
// consumed by a frame.
func (r *Reader) Buffered() int {
	return len(r.buf)
}
