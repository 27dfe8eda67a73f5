// internal/codec/codec.go
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the register layout of one field.
type Type string

const (
	Int16  Type = "int16"
	Uint16 Type = "uint16"
	Int32  Type = "int32"
	Uint32 Type = "uint32"
	Int64  Type = "int64"
	Uint64 Type = "uint64"
	String Type = "string"
)

var (
	ErrShortInput  = errors.New("codec: not enough registers")
	ErrUnknownType = errors.New("codec: unknown type")
	ErrBadValue    = errors.New("codec: value not encodable")
)

// Size returns the number of registers a fixed-width type occupies.
// Strings have no fixed size and report 0.
func (t Type) Size() uint16 {
	switch t {
	case Int16, Uint16:
		return 1
	case Int32, Uint32:
		return 2
	case Int64, Uint64:
		return 4
	default:
		return 0
	}
}

// Numeric reports whether t decodes to a number.
func (t Type) Numeric() bool {
	return t != String && t.Size() > 0
}

// Decode converts raw registers into a value.
// Numbers are returned as float64, strings as string.
func Decode(t Type, regs []uint16) (any, error) {
	if t == String {
		return DecodeString(regs), nil
	}

	n := int(t.Size())
	if n == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if len(regs) < n {
		return nil, fmt.Errorf("%w: %s needs %d, got %d", ErrShortInput, t, n, len(regs))
	}

	switch t {
	case Uint16:
		return float64(DecodeUint16(regs)), nil
	case Int16:
		return float64(DecodeInt16(regs)), nil
	case Uint32:
		return float64(DecodeUint32(regs)), nil
	case Int32:
		return float64(DecodeInt32(regs)), nil
	case Uint64:
		return float64(DecodeUint64(regs)), nil
	default:
		return float64(DecodeInt64(regs)), nil
	}
}

// ---- typed decoders (callers guarantee length) ----

func DecodeUint16(regs []uint16) uint16 {
	return regs[0]
}

// DecodeInt16 folds the sign with 65535, not 65536. Consumers of the
// published values compensate for this, so it stays.
func DecodeInt16(regs []uint16) int32 {
	v := int32(regs[0])
	if v > 32767 {
		v -= 65535
	}
	return v
}

func DecodeUint32(regs []uint16) uint32 {
	return uint32(regs[0])*65536 + uint32(regs[1])
}

func DecodeInt32(regs []uint16) int32 {
	return int32(uint32(regs[0])<<16 | uint32(regs[1]))
}

func DecodeUint64(regs []uint16) uint64 {
	var v uint64
	for i := 0; i < 4; i++ {
		v = v<<16 | uint64(regs[i])
	}
	return v
}

func DecodeInt64(regs []uint16) int64 {
	return int64(DecodeUint64(regs))
}

// DecodeString packs registers as big-endian byte pairs.
// Zero registers are dropped, NUL padding and surrounding whitespace trimmed.
func DecodeString(regs []uint16) string {
	b := make([]byte, 0, len(regs)*2)
	for _, r := range regs {
		if r == 0 {
			continue
		}
		b = append(b, byte(r>>8), byte(r))
	}
	s := strings.ReplaceAll(string(b), "\x00", "")
	return strings.TrimSpace(s)
}

// ---- encoders (write-back) ----

// Encode is the inverse of Decode for the same type.
// size is only used for strings (register count, 0 = as long as needed).
func Encode(t Type, value any, size uint16) ([]uint16, error) {
	if t == String {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T for string", ErrBadValue, value)
		}
		return EncodeString(s, size), nil
	}

	f, ok := toFloat(value)
	if !ok {
		return nil, fmt.Errorf("%w: %T for %s", ErrBadValue, value, t)
	}

	switch t {
	case Uint16:
		if f < 0 || f > 65535 {
			return nil, fmt.Errorf("%w: %v out of uint16 range", ErrBadValue, f)
		}
		return []uint16{uint16(f)}, nil
	case Int16:
		if f < -32767 || f > 32767 {
			return nil, fmt.Errorf("%w: %v out of int16 range", ErrBadValue, f)
		}
		return []uint16{EncodeInt16(int32(f))}, nil
	case Uint32:
		if f < 0 || f > 4294967295 {
			return nil, fmt.Errorf("%w: %v out of uint32 range", ErrBadValue, f)
		}
		return EncodeUint32(uint32(f)), nil
	case Int32:
		if f < -2147483648 || f > 2147483647 {
			return nil, fmt.Errorf("%w: %v out of int32 range", ErrBadValue, f)
		}
		return EncodeInt32(int32(f)), nil
	case Uint64:
		if f < 0 {
			return nil, fmt.Errorf("%w: %v out of uint64 range", ErrBadValue, f)
		}
		return EncodeUint64(uint64(f)), nil
	case Int64:
		return EncodeUint64(uint64(int64(f))), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// EncodeInt16 mirrors DecodeInt16 so both round-trip.
func EncodeInt16(v int32) uint16 {
	if v < 0 {
		v += 65535
	}
	return uint16(v)
}

func EncodeUint32(v uint32) []uint16 {
	return []uint16{uint16(v >> 16), uint16(v)}
}

func EncodeInt32(v int32) []uint16 {
	return EncodeUint32(uint32(v))
}

func EncodeUint64(v uint64) []uint16 {
	return []uint16{uint16(v >> 48), uint16(v >> 32), uint16(v >> 16), uint16(v)}
}

// EncodeString packs ASCII into registers, two bytes each, big-endian.
// A size of 0 uses as many registers as needed.
func EncodeString(s string, size uint16) []uint16 {
	b := []byte(s)
	n := int(size)
	if n == 0 {
		n = (len(b) + 1) / 2
	}
	if len(b) > n*2 {
		b = b[:n*2]
	}

	out := make([]uint16, n)
	for i := 0; i < n*2; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
