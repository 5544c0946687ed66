// Package dtype describes the small set of numeric element types a variable
// may be made of, and decodes raw chunk bytes into typed Go slices.
package dtype

import (
	"encoding/binary"
	"math"

	"github.com/chunkedio/activestore/internal/errors"
)

// Name identifies an element type by its NumPy-style dtype string.
type Name string

const (
	Int8    Name = "i1"
	Uint8   Name = "u1"
	Int16   Name = "i2"
	Uint16  Name = "u2"
	Int32   Name = "i4"
	Uint32  Name = "u4"
	Int64   Name = "i8"
	Uint64  Name = "u8"
	Float32 Name = "f4"
	Float64 Name = "f8"
)

// Width returns the size in bytes of one element of the given dtype.
func Width(name Name) int {
	switch name {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether name is a dtype this package knows how to decode.
func Valid(name Name) bool {
	return Width(name) > 0
}

var canonicalNames = map[Name]string{
	Int8: "int8", Uint8: "uint8",
	Int16: "int16", Uint16: "uint16",
	Int32: "int32", Uint32: "uint32",
	Int64: "int64", Uint64: "uint64",
	Float32: "float32", Float64: "float64",
}

// CanonicalName returns the NumPy-style dtype name (e.g. "float32") used on
// the active-storage wire protocol.
func CanonicalName(name Name) (string, error) {
	s, ok := canonicalNames[name]
	if !ok {
		return "", errors.UnsupportedFeature("dtype %q", name)
	}
	return s, nil
}

// FromCanonicalName parses a wire-protocol dtype name back into a Name.
func FromCanonicalName(s string) (Name, error) {
	for name, canonical := range canonicalNames {
		if canonical == s {
			return name, nil
		}
	}
	return "", errors.UnsupportedFeature("dtype %q", s)
}

func byteOrder(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Decode converts raw chunk bytes into a slice of float64, widening every
// supported element type so that reductions have one arithmetic type to
// work with. The returned slice has len(data)/Width(name) elements.
func Decode(data []byte, name Name, bigEndian bool) ([]float64, error) {
	w := Width(name)
	if w == 0 {
		return nil, errors.UnsupportedFeature("dtype %q", name)
	}
	if len(data)%w != 0 {
		return nil, errors.DecodeFailure("data length %d is not a multiple of element width %d", len(data), w)
	}

	n := len(data) / w
	out := make([]float64, n)
	bo := byteOrder(bigEndian)

	for i := 0; i < n; i++ {
		chunk := data[i*w : (i+1)*w]
		switch name {
		case Int8:
			out[i] = float64(int8(chunk[0]))
		case Uint8:
			out[i] = float64(chunk[0])
		case Int16:
			out[i] = float64(int16(bo.Uint16(chunk)))
		case Uint16:
			out[i] = float64(bo.Uint16(chunk))
		case Int32:
			out[i] = float64(int32(bo.Uint32(chunk)))
		case Uint32:
			out[i] = float64(bo.Uint32(chunk))
		case Float32:
			out[i] = float64(math.Float32frombits(bo.Uint32(chunk)))
		case Int64:
			out[i] = float64(int64(bo.Uint64(chunk)))
		case Uint64:
			out[i] = float64(bo.Uint64(chunk))
		case Float64:
			out[i] = math.Float64frombits(bo.Uint64(chunk))
		default:
			return nil, errors.UnsupportedFeature("dtype %q", name)
		}
	}
	return out, nil
}

// DecodeScalar decodes a single dtype-width value, e.g. a fill value, to a
// float64. It returns 0, false if raw is empty.
func DecodeScalar(raw []byte, name Name, bigEndian bool) (float64, bool, error) {
	if len(raw) == 0 {
		return 0, false, nil
	}
	vals, err := Decode(raw, name, bigEndian)
	if err != nil {
		return 0, false, err
	}
	if len(vals) != 1 {
		return 0, false, errors.DecodeFailure("expected exactly one fill value element, got %d", len(vals))
	}
	return vals[0], true, nil
}
