// Package endian provides byte-order utilities for the binary cache format.
//
// Cache entries record their endianness in the header flags so files written
// on one host remain readable on another. The Engine interface combines the
// standard library's ByteOrder and AppendByteOrder, and this package adds the
// float64 plane helpers the tensor payloads need.
package endian

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Engine combines ByteOrder and AppendByteOrder from encoding/binary. It is
// satisfied by binary.LittleEndian and binary.BigEndian; instances are
// immutable, stateless and safe for concurrent use.
type Engine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Little returns the little-endian engine, the default for new cache entries.
func Little() Engine {
	return binary.LittleEndian
}

// Big returns the big-endian engine.
func Big() Engine {
	return binary.BigEndian
}

// Native determines the host's byte order from a fixed integer probe.
func Native() Engine {
	var i uint16 = 0x0100

	// For little-endian hosts the low byte (0x00) sits at the lowest address.
	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 0x01 {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// IsNativeLittle reports whether the host is little-endian.
func IsNativeLittle() bool {
	return Native() == Engine(binary.LittleEndian)
}

// PutFloat64 writes v into b using the engine's byte order.
func PutFloat64(e Engine, b []byte, v float64) {
	e.PutUint64(b, math.Float64bits(v))
}

// Float64 reads a float64 from b using the engine's byte order.
func Float64(e Engine, b []byte) float64 {
	return math.Float64frombits(e.Uint64(b))
}

// AppendFloat64 appends v to b using the engine's byte order.
func AppendFloat64(e Engine, b []byte, v float64) []byte {
	return e.AppendUint64(b, math.Float64bits(v))
}

// AppendFloat64Slice appends every value of vs to b in order. This is the
// encoding used for axis vectors and flattened tensor planes.
func AppendFloat64Slice(e Engine, b []byte, vs []float64) []byte {
	for _, v := range vs {
		b = e.AppendUint64(b, math.Float64bits(v))
	}

	return b
}

// Float64Slice decodes n float64 values from b. It returns the decoded slice
// and the number of bytes consumed, or (nil, 0) when b is too short.
func Float64Slice(e Engine, b []byte, n int) ([]float64, int) {
	if len(b) < n*8 {
		return nil, 0
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(e.Uint64(b[i*8:]))
	}

	return out, n * 8
}
