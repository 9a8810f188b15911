// Package errs defines the sentinel errors shared across psfkit packages.
//
// All errors are created with errors.New so callers can match them with
// errors.Is after arbitrary wrapping. Build-phase configuration errors are
// fatal and surfaced immediately; query-time shape problems are recovered
// locally and never reach the caller (see the cachestore and synth packages).
package errs

import "errors"

// Fit and sample-stack configuration errors. These abort a build.
var (
	// ErrNoSamples indicates an empty sample stack was handed to the fitter
	// or dispatcher.
	ErrNoSamples = errors.New("no samples provided")

	// ErrDegreeExceedsSamples indicates the requested polynomial degree
	// requires more coefficients than there are samples to constrain them.
	ErrDegreeExceedsSamples = errors.New("polynomial degree+1 exceeds sample count")

	// ErrSampleShapeMismatch indicates images in a sample stack do not share
	// the same pixel dimensions.
	ErrSampleShapeMismatch = errors.New("sample images have mismatched dimensions")

	// ErrDomainCollapsed indicates the sample parameter values span a zero
	// width domain, which cannot be mapped onto [-1, 1].
	ErrDomainCollapsed = errors.New("sample parameter domain has zero width")

	// ErrDegenerateSample indicates the propagation engine returned an
	// all-NaN or non-positive image for one sample.
	ErrDegenerateSample = errors.New("engine returned degenerate image")
)

// Residual grid errors.
var (
	// ErrGridTooSmall indicates a residual grid axis has fewer than two nodes
	// and cannot support interpolation.
	ErrGridTooSmall = errors.New("residual grid axis needs at least two nodes")

	// ErrGridNotAscending indicates a residual grid axis is not strictly
	// ascending.
	ErrGridNotAscending = errors.New("residual grid axis values must be strictly ascending")

	// ErrGridShapeMismatch indicates the residual tensor size disagrees with
	// the grid axis lengths.
	ErrGridShapeMismatch = errors.New("residual tensor does not match grid axes")
)

// Cache entry errors.
var (
	// ErrInvalidHeaderSize indicates a cache entry is too short to contain a
	// header block.
	ErrInvalidHeaderSize = errors.New("invalid cache header size")

	// ErrInvalidMagicNumber indicates the file does not start with the psfkit
	// cache magic number.
	ErrInvalidMagicNumber = errors.New("invalid cache magic number")

	// ErrUnsupportedVersion indicates a cache header version this build does
	// not understand.
	ErrUnsupportedVersion = errors.New("unsupported cache format version")

	// ErrInvalidHeaderFlags indicates header flags carry an unknown basis or
	// compression selector.
	ErrInvalidHeaderFlags = errors.New("invalid cache header flags")

	// ErrKeyMismatch indicates a cache entry was produced under a different
	// configuration than the one requesting it.
	ErrKeyMismatch = errors.New("cache entry configuration hash mismatch")

	// ErrShapeMismatch indicates a stored tensor cannot be reconciled with
	// the expected pixel dimensions even after pad/crop recovery.
	ErrShapeMismatch = errors.New("stored tensor shape mismatch")

	// ErrCacheMiss indicates no entry exists for the requested key.
	ErrCacheMiss = errors.New("cache entry not found")

	// ErrPayloadCorrupt indicates a payload section failed checksum or
	// decompression.
	ErrPayloadCorrupt = errors.New("cache payload corrupt")
)

// Request errors.
var (
	// ErrInvalidAxis indicates a reflection axis outside the known set.
	ErrInvalidAxis = errors.New("invalid symmetry axis")

	// ErrUnknownFrame indicates a coordinate frame tag outside the closed
	// set understood by the synthesizer.
	ErrUnknownFrame = errors.New("unknown coordinate frame")

	// ErrNegativeDrift indicates a negative wavefront drift amplitude, which
	// the drift model does not cover.
	ErrNegativeDrift = errors.New("wavefront drift amplitude must not be negative")

	// ErrNoWavelengths indicates a synthesis request without any wavelengths.
	ErrNoWavelengths = errors.New("request contains no wavelengths")
)
