// Package conf holds the immutable instrument configuration consumed by
// every build and query component. A Snapshot is a plain value: workers
// receive copies, never shared mutable state, and instrument-specific
// geometry (symmetry axes, offset node lists, grid extents) is carried as
// data rather than behavior.
package conf

import (
	"fmt"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/errs"
)

// Defaults applied by Snapshot.Normalize when a field is zero.
const (
	DefaultOversample = 4
	DefaultFOVPixels  = 33
	DefaultDegree     = 7
)

// Snapshot is the full configuration of one optical setup. Every field
// that affects engine output participates in the cache key; two snapshots
// differing in any such field never share cached models.
type Snapshot struct {
	// Optical element selection.
	Filter    string
	ImageMask string // occulting mask name, empty when none
	Pupil     string

	// Sampling geometry.
	Oversample int // pixel oversampling factor relative to the detector
	FOVPixels  int // output size in detector pixels per side

	// Pointing jitter applied by the engine.
	JitterType  string
	JitterSigma float64 // mas

	// WFEMapID identifies the wavefront-error map the engine applies.
	WFEMapID string

	// Nominal field position and the frame it is expressed in.
	FieldPos   Coord
	FieldFrame Frame

	// Perturbation axis values. These are what the residual models sweep,
	// so they stay out of the cache key: one key covers the whole axis.
	WFEDrift   float64 // nm of wavefront drift applied by the engine
	MaskOffset Coord   // occulter offset in arcsec

	// Polynomial model shape.
	Degree int
	Basis  basis.Kind

	// Wavelength span of the baseline fit, in microns, and the number of
	// monochromatic samples across it.
	WaveMin      float64
	WaveMax      float64
	NWavelengths int

	// Geometry of the mask-offset residual grid.
	Geometry MaskGeometry
}

// MaskGeometry describes the mask-offset node layout and the mask's
// reflection symmetries. Offset lists are sorted ascending and deliberately
// dense near the inner working angle.
type MaskGeometry struct {
	// OffsetsX and OffsetsY are the explicit node offsets in arcsec. When
	// the corresponding symmetry flag is set they cover only the
	// non-negative half starting at zero.
	OffsetsX []float64
	OffsetsY []float64

	// SymmetricX and SymmetricY mark reflection symmetry about each axis.
	SymmetricX bool
	SymmetricY bool

	// FrameRotation is the detector frame rotation relative to the mask
	// frame, in degrees. Reflected nodes are compensated by twice this
	// angle.
	FrameRotation float64

	// FineRadius bounds the always-explicit region around zero offset, in
	// arcsec. Nodes within it are simulated directly and overwrite any
	// symmetry-derived value.
	FineRadius float64
}

// HasOcculter reports whether the configuration includes a light-blocking
// image mask.
func (s Snapshot) HasOcculter() bool { return s.ImageMask != "" }

// WithoutMask returns a copy with the occulting mask logically disabled,
// used to build off-axis drift models.
func (s Snapshot) WithoutMask() Snapshot {
	s.ImageMask = ""

	return s
}

// OversampledPixels returns the per-side pixel count of engine output.
func (s Snapshot) OversampledPixels() int { return s.FOVPixels * s.Oversample }

// Normalize fills zero-valued sampling fields with defaults and returns
// the result.
func (s Snapshot) Normalize() Snapshot {
	if s.Oversample == 0 {
		s.Oversample = DefaultOversample
	}
	if s.FOVPixels == 0 {
		s.FOVPixels = DefaultFOVPixels
	}
	if s.Degree == 0 {
		s.Degree = DefaultDegree
	}
	if !s.Basis.Valid() {
		s.Basis = basis.Legendre
	}
	if s.NWavelengths == 0 {
		s.NWavelengths = s.Degree + 4
	}
	if !s.FieldFrame.Valid() {
		s.FieldFrame = FrameTel
	}

	return s
}

// Validate checks the fields a build cannot proceed without.
func (s Snapshot) Validate() error {
	if s.Oversample < 1 || s.FOVPixels < 1 {
		return fmt.Errorf("%w: oversample %d, fov %d",
			errs.ErrSampleShapeMismatch, s.Oversample, s.FOVPixels)
	}
	if s.WaveMax <= s.WaveMin {
		return fmt.Errorf("%w: wavelength span [%g, %g]",
			errs.ErrDomainCollapsed, s.WaveMin, s.WaveMax)
	}
	if s.Degree+1 > s.NWavelengths {
		return fmt.Errorf("%w: degree %d with %d wavelengths",
			errs.ErrDegreeExceedsSamples, s.Degree, s.NWavelengths)
	}

	return nil
}

// WavelengthLadder returns NWavelengths evenly spaced samples spanning
// [WaveMin, WaveMax].
func (s Snapshot) WavelengthLadder() []float64 {
	n := s.NWavelengths
	out := make([]float64, n)
	step := (s.WaveMax - s.WaveMin) / float64(n-1)
	for i := range out {
		out[i] = s.WaveMin + float64(i)*step
	}
	out[n-1] = s.WaveMax

	return out
}

// BuildControls tunes one build invocation without changing what is built.
// None of these fields participate in the cache key.
type BuildControls struct {
	// Force recomputes even when a valid cache entry exists.
	Force bool
	// Persist writes finished models to the cache store.
	Persist bool
	// Workers overrides the estimated pool size when > 0.
	Workers int
	// MemoryBudget caps the pool sizing estimate, in bytes. Zero means a
	// conservative built-in default.
	MemoryBudget uint64
	// DegreeOverride replaces Snapshot.Degree when > 0.
	DegreeOverride int
	// WaveMinOverride and WaveMaxOverride replace the fit span when both
	// are set (max > min).
	WaveMinOverride float64
	WaveMaxOverride float64
}

// Apply folds the overrides into a snapshot.
func (c BuildControls) Apply(s Snapshot) Snapshot {
	if c.DegreeOverride > 0 {
		s.Degree = c.DegreeOverride
	}
	if c.WaveMaxOverride > c.WaveMinOverride && c.WaveMaxOverride > 0 {
		s.WaveMin = c.WaveMinOverride
		s.WaveMax = c.WaveMaxOverride
	}

	return s
}
