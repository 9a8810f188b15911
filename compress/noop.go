package compress

// NoOpCodec passes payloads through unchanged. Useful for debugging cache
// files with external tools and for benchmarking codec overhead.
type NoOpCodec struct{}

var _ Codec = (*NoOpCodec)(nil)

// NewNoOpCodec creates a new pass-through codec.
func NewNoOpCodec() NoOpCodec {
	return NoOpCodec{}
}

// Compress returns the input slice unchanged. The result shares the input's
// underlying memory.
func (c NoOpCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns the input slice unchanged. The result shares the input's
// underlying memory.
func (c NoOpCodec) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
