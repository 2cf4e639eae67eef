/*
Package wire implements the exchange wire format: a fixed 12-byte frame
header followed by an opaque payload, plus helpers to pack and unpack
sequences of typed fields inside a payload. All integers are big-endian.
The package is pure, it performs no I/O and keeps no state.
*/
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the size of a frame header: message type, version and
// payload size, 32 bits each.
const HeaderSize = 12

// MaxPayloadSize is the largest payload a single frame can carry.
const MaxPayloadSize = math.MaxUint32

// ErrShortBuffer is returned when a buffer ends in the middle of a field.
var ErrShortBuffer = errors.New("buffer too short")

// Header is the fixed preamble of every frame.
type Header struct {
	Type    uint32
	Version uint32
	Size    uint32
}

// EncodeHeader appends the wire form of h to dst and returns the result.
func EncodeHeader(dst []byte, h Header) []byte {
	dst = binary.BigEndian.AppendUint32(dst, h.Type)
	dst = binary.BigEndian.AppendUint32(dst, h.Version)
	dst = binary.BigEndian.AppendUint32(dst, h.Size)
	return dst
}

// DecodeHeader reads a frame header from the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Type:    binary.BigEndian.Uint32(b),
		Version: binary.BigEndian.Uint32(b[4:]),
		Size:    binary.BigEndian.Uint32(b[8:]),
	}, nil
}

// EncodeFrame appends a complete frame (header plus payload) to dst.
func EncodeFrame(dst []byte, typ, version uint32, payload []byte) []byte {
	dst = EncodeHeader(dst, Header{Type: typ, Version: version, Size: uint32(len(payload))})
	return append(dst, payload...)
}

// SplitFrame checks whether b starts with a complete frame. If so it
// returns the header, the payload and the number of bytes consumed.
// A zero consumed count means more data is needed.
func SplitFrame(b []byte) (Header, []byte, int) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, nil, 0
	}
	total := HeaderSize + int(h.Size)
	if len(b) < total {
		return Header{}, nil, 0
	}
	return h, b[HeaderSize:total], total
}

// Kind tags the type of a packed payload field.
type Kind byte

// Field kinds, in the order the legacy packers define them.
const (
	KindUint8 Kind = iota
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
)

// Field is one typed value inside a payload. Use the constructor
// functions below; the zero Field is a zero KindUint8.
type Field struct {
	Kind  Kind
	Uint  uint64
	Float float64
	Str   string
	Raw   []byte
}

// U8 returns a uint8 field.
func U8(v uint8) Field { return Field{Kind: KindUint8, Uint: uint64(v)} }

// U16 returns a uint16 field.
func U16(v uint16) Field { return Field{Kind: KindUint16, Uint: uint64(v)} }

// U32 returns a uint32 field.
func U32(v uint32) Field { return Field{Kind: KindUint32, Uint: uint64(v)} }

// U64 returns a uint64 field.
func U64(v uint64) Field { return Field{Kind: KindUint64, Uint: v} }

// F32 returns a float32 field.
func F32(v float32) Field { return Field{Kind: KindFloat32, Float: float64(v)} }

// F64 returns a float64 field.
func F64(v float64) Field { return Field{Kind: KindFloat64, Float: v} }

// String returns a length-prefixed string field. The prefix is 16 bits,
// an empty string packs as length zero.
func String(s string) Field { return Field{Kind: KindString, Str: s} }

// Bytes returns a raw block field. Raw blocks carry no length prefix and
// may therefore only appear as the last field of a payload.
func Bytes(b []byte) Field { return Field{Kind: KindBytes, Raw: b} }

// Pack serializes fields into a payload.
func Pack(fields ...Field) []byte {
	var b []byte
	for _, f := range fields {
		switch f.Kind {
		case KindUint8:
			b = append(b, byte(f.Uint))
		case KindUint16:
			b = binary.BigEndian.AppendUint16(b, uint16(f.Uint))
		case KindUint32:
			b = binary.BigEndian.AppendUint32(b, uint32(f.Uint))
		case KindUint64:
			b = binary.BigEndian.AppendUint64(b, f.Uint)
		case KindFloat32:
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(f.Float)))
		case KindFloat64:
			b = binary.BigEndian.AppendUint64(b, math.Float64bits(f.Float))
		case KindString:
			b = binary.BigEndian.AppendUint16(b, uint16(len(f.Str)))
			b = append(b, f.Str...)
		case KindBytes:
			b = append(b, f.Raw...)
		}
	}
	return b
}

// Unpack parses b as a sequence of fields with the given kinds. It
// returns an error if b is shorter than the pattern requires or if data
// remains after the last field and the pattern holds no raw block.
func Unpack(b []byte, kinds ...Kind) ([]Field, error) {
	fields := make([]Field, 0, len(kinds))
	for i, k := range kinds {
		var f Field
		f.Kind = k
		switch k {
		case KindUint8:
			if len(b) < 1 {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			f.Uint = uint64(b[0])
			b = b[1:]
		case KindUint16:
			if len(b) < 2 {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			f.Uint = uint64(binary.BigEndian.Uint16(b))
			b = b[2:]
		case KindUint32:
			if len(b) < 4 {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			f.Uint = uint64(binary.BigEndian.Uint32(b))
			b = b[4:]
		case KindUint64:
			if len(b) < 8 {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			f.Uint = binary.BigEndian.Uint64(b)
			b = b[8:]
		case KindFloat32:
			if len(b) < 4 {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			f.Float = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
			b = b[4:]
		case KindFloat64:
			if len(b) < 8 {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			f.Float = math.Float64frombits(binary.BigEndian.Uint64(b))
			b = b[8:]
		case KindString:
			if len(b) < 2 {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			n := int(binary.BigEndian.Uint16(b))
			if len(b) < 2+n {
				return nil, fmt.Errorf("field %d: %w", i, ErrShortBuffer)
			}
			f.Str = string(b[2 : 2+n])
			b = b[2+n:]
		case KindBytes:
			if i != len(kinds)-1 {
				return nil, fmt.Errorf("field %d: raw block must be last", i)
			}
			f.Raw = append([]byte(nil), b...)
			b = nil
		default:
			return nil, fmt.Errorf("field %d: unknown kind %d", i, k)
		}
		fields = append(fields, f)
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after last field", len(b))
	}
	return fields, nil
}
