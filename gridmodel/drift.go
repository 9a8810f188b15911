package gridmodel

import (
	"fmt"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
	"github.com/psfkit/psfkit/tensor"
)

// DefaultDriftLadder lists the wavefront drift amplitudes, in nanometers,
// sampled when building a drift model. The ladder is dense near zero where
// the PSF response is steepest.
var DefaultDriftLadder = []float64{0, 1, 2, 5, 10, 20, 40}

// DriftDegree is the polynomial degree of the drift-amplitude fit.
const DriftDegree = 4

// DriftModel maps a scalar wavefront drift amplitude to a residual
// coefficient cube. The model is itself a polynomial cube whose plane
// payload is a flattened coefficient cube, fitted over residuals at a
// ladder of drift amplitudes.
//
// When the instrument carries an occulting mask a second model is built
// with the mask disabled. Query-time corrections blend the two by the
// occulter's intensity transmission at the field point, covering the
// physical continuum between heavily occulted and unocculted behavior.
type DriftModel struct {
	// On is the drift fit with the nominal optical train.
	On *fit.Cube
	// Off is the drift fit with the occulting mask disabled, nil when the
	// configuration has no occulter.
	Off *fit.Cube

	// Shape of the coefficient cubes the flattened planes encode.
	CubeDegree int
	CubeKind   basis.Kind
	CubeDomain basis.Domain
	CubeH      int
	CubeW      int
}

// NewDriftModel wraps on-axis and optional off-axis drift fits. The cube
// shape parameters describe the coefficient cubes packed into the fit
// planes and are used to unflatten evaluations.
func NewDriftModel(on, off *fit.Cube, cubeDeg int, kind basis.Kind, dom basis.Domain, h, w int) (*DriftModel, error) {
	if on == nil {
		return nil, errs.ErrNoSamples
	}
	wantH := (cubeDeg + 1) * h
	if on.H() != wantH || on.W() != w {
		return nil, fmt.Errorf("%w: on-axis planes are %dx%d, want %dx%d",
			errs.ErrShapeMismatch, on.H(), on.W(), wantH, w)
	}
	if off != nil && (off.H() != wantH || off.W() != w) {
		return nil, fmt.Errorf("%w: off-axis planes are %dx%d, want %dx%d",
			errs.ErrShapeMismatch, off.H(), off.W(), wantH, w)
	}

	return &DriftModel{
		On:         on,
		Off:        off,
		CubeDegree: cubeDeg,
		CubeKind:   kind,
		CubeDomain: dom,
		CubeH:      h,
		CubeW:      w,
	}, nil
}

// Blended reports whether the model carries an off-axis branch.
func (m *DriftModel) Blended() bool { return m.Off != nil }

// Correction evaluates the drift residual at the given amplitude.
//
// amplTrans is the occulter's amplitude transmission at the field point,
// in [0, 1]; the blend weight is its square, the intensity transmission:
//
//	correction = trans²·off + (1 − trans²)·on
//
// When no off-axis model exists the transmission is ignored and the
// on-axis evaluation is returned as-is.
//
// Returns:
//   - *fit.Cube: the residual coefficient cube to add to the baseline
//   - error: errs.ErrNegativeDrift when drift < 0
func (m *DriftModel) Correction(drift, amplTrans float64) (*fit.Cube, error) {
	if drift < 0 {
		return nil, fmt.Errorf("%w: %g", errs.ErrNegativeDrift, drift)
	}

	on := m.unflatten(m.On.Eval(drift))
	if m.Off == nil {
		return on, nil
	}

	off := m.unflatten(m.Off.Eval(drift))
	trans := amplTrans * amplTrans
	out := on
	for i := range out.Planes.Data {
		out.Planes.Data[i] = trans*off.Planes.Data[i] + (1-trans)*on.Planes.Data[i]
	}

	return out, nil
}

func (m *DriftModel) unflatten(flat *tensor.Image) *fit.Cube {
	return fit.Unflatten(flat, m.CubeDegree, m.CubeKind, m.CubeDomain, m.CubeH, m.CubeW)
}
