package cachestore

import (
	"fmt"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/compress"
	"github.com/psfkit/psfkit/endian"
	"github.com/psfkit/psfkit/errs"
)

// MagicNumber opens every cache file. Read back under the wrong byte order
// it decodes to a different value, which is how load detects the writer's
// endianness.
const MagicNumber uint32 = 0x50434331 // "PCC1" big-endian byte sequence

// Header versions. Version 1 predates the fine-radius field; both remain
// readable.
const (
	Version1 uint8 = 1
	Version2 uint8 = 2
)

// CurrentVersion is written by Save.
const CurrentVersion = Version2

// Header flag layout.
const (
	flagBigEndian  = 0x01
	flagBasisShift = 1
	flagBasisMask  = 0x03 << flagBasisShift
	flagCodecShift = 4
	flagCodecMask  = 0x07 << flagCodecShift
)

// Fixed header sizes per version.
const (
	headerSizeV1 = 68
	headerSizeV2 = 76
)

// Header is the fixed metadata block of one cache entry. All fields needed
// to validate the entry against the current configuration live here;
// payloads are never decompressed before the header checks pass.
type Header struct {
	Version     uint8
	BigEndian   bool
	Basis       basis.Kind
	Compression compress.Type
	Degree      uint8
	Axis        ModelAxis
	H           uint32
	W           uint32
	DomainLo    float64
	DomainHi    float64
	ConfigHash  uint64
	CreatedAt   int64
	FineRadius  float64 // zero under Version1

	// Payload geometry: axis vector lengths and compressed section sizes.
	N1   uint32
	N2   uint32
	Len1 uint32
	Len2 uint32
	LenT uint32
}

// Engine returns the byte-order engine the entry was written with.
func (h *Header) Engine() endian.Engine {
	if h.BigEndian {
		return endian.Big()
	}

	return endian.Little()
}

func (h *Header) size() int {
	if h.Version == Version1 {
		return headerSizeV1
	}

	return headerSizeV2
}

func (h *Header) flags() uint8 {
	var f uint8
	if h.BigEndian {
		f |= flagBigEndian
	}
	f |= (uint8(h.Basis) << flagBasisShift) & flagBasisMask
	f |= (uint8(h.Compression) << flagCodecShift) & flagCodecMask

	return f
}

// marshal appends the header in the entry's byte order.
func (h *Header) marshal(b []byte) []byte {
	e := h.Engine()
	b = e.AppendUint32(b, MagicNumber)
	b = append(b, h.Version, h.flags(), h.Degree, uint8(h.Axis))
	b = e.AppendUint32(b, h.H)
	b = e.AppendUint32(b, h.W)
	b = endian.AppendFloat64(e, b, h.DomainLo)
	b = endian.AppendFloat64(e, b, h.DomainHi)
	b = e.AppendUint64(b, h.ConfigHash)
	b = e.AppendUint64(b, uint64(h.CreatedAt))
	if h.Version >= Version2 {
		b = endian.AppendFloat64(e, b, h.FineRadius)
	}
	b = e.AppendUint32(b, h.N1)
	b = e.AppendUint32(b, h.N2)
	b = e.AppendUint32(b, h.Len1)
	b = e.AppendUint32(b, h.Len2)
	b = e.AppendUint32(b, h.LenT)

	return b
}

// headerAccessor parses one header layout. Accessors are tried in order
// until one accepts, replacing version-fallback exception chains with an
// explicit strategy list.
type headerAccessor struct {
	version uint8
	size    int
}

var headerAccessors = []headerAccessor{
	{version: Version2, size: headerSizeV2},
	{version: Version1, size: headerSizeV1},
}

// parseHeader decodes and validates a header block.
//
// Returns:
//   - *Header: the decoded header
//   - error: errs.ErrInvalidHeaderSize, errs.ErrInvalidMagicNumber,
//     errs.ErrUnsupportedVersion, or errs.ErrInvalidHeaderFlags
func parseHeader(b []byte) (*Header, error) {
	if len(b) < headerSizeV1 {
		return nil, fmt.Errorf("%w: %d bytes", errs.ErrInvalidHeaderSize, len(b))
	}

	// The magic decodes correctly only under the writer's byte order.
	var e endian.Engine
	switch {
	case endian.Little().Uint32(b) == MagicNumber:
		e = endian.Little()
	case endian.Big().Uint32(b) == MagicNumber:
		e = endian.Big()
	default:
		return nil, fmt.Errorf("%w: 0x%08x", errs.ErrInvalidMagicNumber, endian.Little().Uint32(b))
	}

	version := b[4]
	var acc *headerAccessor
	for i := range headerAccessors {
		if headerAccessors[i].version == version {
			acc = &headerAccessors[i]
			break
		}
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: version %d", errs.ErrUnsupportedVersion, version)
	}
	if len(b) < acc.size {
		return nil, fmt.Errorf("%w: %d bytes for version %d",
			errs.ErrInvalidHeaderSize, len(b), version)
	}

	flags := b[5]
	h := &Header{
		Version:     version,
		BigEndian:   flags&flagBigEndian != 0,
		Basis:       basis.Kind((flags & flagBasisMask) >> flagBasisShift),
		Compression: compress.Type((flags & flagCodecMask) >> flagCodecShift),
		Degree:      b[6],
		Axis:        ModelAxis(b[7]),
	}
	if h.BigEndian != (e == endian.Big()) {
		return nil, fmt.Errorf("%w: endian flag disagrees with magic", errs.ErrInvalidHeaderFlags)
	}
	if !h.Basis.Valid() {
		return nil, fmt.Errorf("%w: basis %d", errs.ErrInvalidHeaderFlags, h.Basis)
	}
	if !h.Compression.Valid() {
		return nil, fmt.Errorf("%w: compression %d", errs.ErrInvalidHeaderFlags, h.Compression)
	}
	if !h.Axis.Valid() {
		return nil, fmt.Errorf("%w: axis %d", errs.ErrInvalidHeaderFlags, h.Axis)
	}

	off := 8
	h.H = e.Uint32(b[off:])
	h.W = e.Uint32(b[off+4:])
	off += 8
	h.DomainLo = endian.Float64(e, b[off:])
	h.DomainHi = endian.Float64(e, b[off+8:])
	off += 16
	h.ConfigHash = e.Uint64(b[off:])
	h.CreatedAt = int64(e.Uint64(b[off+8:]))
	off += 16
	if version >= Version2 {
		h.FineRadius = endian.Float64(e, b[off:])
		off += 8
	}
	h.N1 = e.Uint32(b[off:])
	h.N2 = e.Uint32(b[off+4:])
	h.Len1 = e.Uint32(b[off+8:])
	h.Len2 = e.Uint32(b[off+12:])
	h.LenT = e.Uint32(b[off+16:])

	return h, nil
}
