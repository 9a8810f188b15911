// Package synth reconstructs PSF images at request time from the cached
// polynomial models: baseline cube, optional field or mask residual grid,
// and optional drift model. Reconstruction is pure in-memory tensor
// arithmetic, single-threaded, with no I/O on the hot path.
package synth

import (
	"fmt"

	"github.com/psfkit/psfkit/conf"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
	"github.com/psfkit/psfkit/gridmodel"
	"github.com/psfkit/psfkit/internal/options"
	"github.com/psfkit/psfkit/tensor"
)

// Request describes one reconstruction. Transient; never persisted.
type Request struct {
	// Wavelengths to evaluate, in microns. Required.
	Wavelengths []float64
	// Spectrum weights the wavelength bins; nil means uniform.
	Spectrum *Spectrum

	// Coords are the field points to reconstruct, one output image each,
	// expressed in Frame as offsets from the nominal build position. The
	// residual grids are built over offsets, so an absolute coordinate must
	// have the nominal position subtracted before it goes here. Empty means
	// the nominal position itself.
	Coords []conf.Coord
	Frame  conf.Frame

	// Drift is the wavefront drift amplitude in nm; zero skips the drift
	// correction.
	Drift float64

	// MaskOffset, when non-nil, selects the mask-offset residual grid
	// instead of the field grid.
	MaskOffset *conf.Coord

	// DetectorSampled rebins the oversampled result down to detector
	// pixels.
	DetectorSampled bool
}

// Synthesizer composes corrections onto a baseline cube. Construct with
// New; all attached models are read-only and the synthesizer is safe for
// concurrent use.
type Synthesizer struct {
	base       *fit.Cube
	field      *gridmodel.ResidualGrid
	mask       *gridmodel.ResidualGrid
	drift      *gridmodel.DriftModel
	trans      conf.TransmissionFunc
	frames     conf.FrameConverter
	modelFrame conf.Frame
	oversample int
}

// Option configures a Synthesizer.
type Option = options.Option[*Synthesizer]

// WithFieldGrid attaches the field-position residual grid, built in frame.
// The grid's axes are offsets from the nominal build position, matching
// what Request.Coords carries.
func WithFieldGrid(g *gridmodel.ResidualGrid, frame conf.Frame) Option {
	return options.NoError(func(s *Synthesizer) {
		s.field = g
		s.modelFrame = frame
	})
}

// WithMaskGrid attaches the mask-offset residual grid.
func WithMaskGrid(g *gridmodel.ResidualGrid) Option {
	return options.NoError(func(s *Synthesizer) {
		s.mask = g
	})
}

// WithDriftModel attaches the wavefront-drift model and the occulter
// transmission function used for on/off-axis blending. A nil fn treats
// every field point as fully occulted (transmission 0).
func WithDriftModel(m *gridmodel.DriftModel, fn conf.TransmissionFunc) Option {
	return options.NoError(func(s *Synthesizer) {
		s.drift = m
		s.trans = fn
	})
}

// WithFrameConverter replaces the identity frame converter.
func WithFrameConverter(fc conf.FrameConverter) Option {
	return options.NoError(func(s *Synthesizer) {
		s.frames = fc
	})
}

// WithOversample records the oversampling factor for detector-sampled
// output.
func WithOversample(n int) Option {
	return options.New(func(s *Synthesizer) error {
		if n < 1 {
			return fmt.Errorf("synth: oversample %d out of range", n)
		}
		s.oversample = n

		return nil
	})
}

// New creates a Synthesizer over a baseline cube.
func New(base *fit.Cube, opts ...Option) (*Synthesizer, error) {
	if base == nil {
		return nil, fmt.Errorf("synth: nil baseline cube")
	}

	s := &Synthesizer{
		base:       base,
		frames:     conf.IdentityConverter{},
		modelFrame: conf.FrameTel,
		oversample: 1,
	}
	if err := options.Apply(s, opts...); err != nil {
		return nil, err
	}

	return s, nil
}

// Image reconstructs a single image for the request's first (or nominal)
// field point.
func (s *Synthesizer) Image(req Request) (*tensor.Image, error) {
	ims, err := s.Batch(req)
	if err != nil {
		return nil, err
	}

	return ims[0], nil
}

// Batch reconstructs one image per requested field point, ordered exactly
// as the coordinate list. Each point is evaluated independently; results
// are never interpolated across points.
func (s *Synthesizer) Batch(req Request) ([]*tensor.Image, error) {
	if len(req.Wavelengths) == 0 {
		return nil, errs.ErrNoWavelengths
	}
	if req.Drift < 0 {
		return nil, fmt.Errorf("%w: %g nm", errs.ErrNegativeDrift, req.Drift)
	}

	coords := req.Coords
	if len(coords) == 0 {
		coords = []conf.Coord{{}}
	}
	frame := req.Frame
	if !frame.Valid() {
		frame = conf.FrameTel
	}

	fractions := req.Spectrum.Fractions(req.Wavelengths)

	out := make([]*tensor.Image, len(coords))
	for i, c := range coords {
		eff, err := s.effectiveCube(c, frame, req)
		if err != nil {
			return nil, err
		}

		final := tensor.NewImage(s.base.H(), s.base.W())
		for j, im := range eff.EvalAll(req.Wavelengths) {
			final.AddScaled(fractions[j], im)
		}
		if req.DetectorSampled {
			final = tensor.RebinSum(final, s.oversample)
		}
		out[i] = final
	}

	return out, nil
}

// effectiveCube composes the per-point correction stack onto the baseline.
func (s *Synthesizer) effectiveCube(c conf.Coord, frame conf.Frame, req Request) (*fit.Cube, error) {
	eff := s.base.Clone()

	// Mask-offset correction replaces the field correction when an offset
	// applies; the two grids model the same spatial axis for different
	// observing modes.
	switch {
	case req.MaskOffset != nil && s.mask != nil:
		eff.AddInPlace(s.mask.Correction(req.MaskOffset.X, req.MaskOffset.Y))
	case s.field != nil:
		mc, err := s.frames.Convert(c, frame, s.modelFrame)
		if err != nil {
			return nil, err
		}
		eff.AddInPlace(s.field.Correction(mc.X, mc.Y))
	}

	if req.Drift > 0 && s.drift != nil {
		trans := 0.0
		if s.trans != nil {
			trans = s.trans(c, frame)
		}
		corr, err := s.drift.Correction(req.Drift, trans)
		if err != nil {
			return nil, err
		}
		eff.AddInPlace(corr)
	}

	return eff, nil
}
