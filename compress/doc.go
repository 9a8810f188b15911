// Package compress provides the payload codecs used by persisted PSF
// coefficient cache entries.
//
// Cache payloads are raw binary float64 tensors (coefficient planes, residual
// grids, axis vectors). Neighbouring coefficient values are strongly
// correlated, so even fast byte-level codecs reclaim a large share of the
// payload size. Four codecs are available:
//
//   - None: store payloads verbatim
//   - Zstd: best ratio, the default for coefficient tensors
//   - S2: fastest, useful when cache files live on local SSD
//   - LZ4: balanced speed and ratio
//
// All codecs are stateless values and safe for concurrent use; pooled
// encoder/decoder state is managed internally.
package compress
