package compress

import "fmt"

// Type selects the compression algorithm applied to a cache payload section.
// The value is recorded in the cache file header so entries remain readable
// regardless of the store's current default.
type Type uint8

const (
	// None stores payloads verbatim.
	None Type = 0x1
	// Zstd applies Zstandard compression.
	Zstd Type = 0x2
	// S2 applies S2 (Snappy-compatible) compression.
	S2 Type = 0x3
	// LZ4 applies LZ4 block compression.
	LZ4 Type = 0x4
)

func (t Type) String() string {
	switch t {
	case None:
		return "None"
	case Zstd:
		return "Zstd"
	case S2:
		return "S2"
	case LZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}

// Valid reports whether t names a known codec.
func (t Type) Valid() bool {
	return t >= None && t <= LZ4
}

// Compressor compresses one cache payload section.
//
// Memory management:
//   - The returned slice is newly allocated and owned by the caller
//     (except for the no-op codec, which returns the input unchanged).
//   - The input slice is never modified.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Decompressor restores a payload section previously produced by the matching
// Compressor. It returns an error when the data is corrupt or was written by
// an incompatible codec.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both directions. All psfkit codecs implement Codec.
type Codec interface {
	Compressor
	Decompressor
}

var builtinCodecs = map[Type]Codec{
	None: NewNoOpCodec(),
	Zstd: NewZstdCodec(),
	S2:   NewS2Codec(),
	LZ4:  NewLZ4Codec(),
}

// ForType returns the built-in Codec for the given compression type.
func ForType(t Type) (Codec, error) {
	if codec, ok := builtinCodecs[t]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("unsupported compression type: %s", t)
}
