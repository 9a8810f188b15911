package compress

// ZstdCodec provides Zstandard compression for cache payload sections.
//
// Zstd is the default for coefficient tensors: cache entries are written once
// per expensive build and read many times, so the better ratio is worth the
// slower encode. Two implementations exist behind build tags: the default
// pure-Go encoder, and a cgo binding selected with the `gozstd` tag for hosts
// where the native library is available.
type ZstdCodec struct{}

var _ Codec = (*ZstdCodec)(nil)

// NewZstdCodec creates a new Zstd codec.
func NewZstdCodec() ZstdCodec {
	return ZstdCodec{}
}
