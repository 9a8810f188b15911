package fit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/tensor"
)

// Fit solves, independently per pixel, the linear least-squares problem
// mapping the scalar parameters to the sample images, returning the
// coefficient cube of the shared-degree polynomial. The fit domain is
// [min(params), max(params)].
//
// All pixels share one design matrix, so the whole stack is solved as a
// single QR factorization with npix right-hand sides.
func Fit(params []float64, images *tensor.Stack, deg int, kind basis.Kind) (*Cube, error) {
	if len(params) == 0 {
		return nil, errs.ErrNoSamples
	}

	lo, hi := params[0], params[0]
	for _, p := range params {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}

	return FitDomain(params, images, deg, kind, basis.Domain{Lo: lo, Hi: hi})
}

// FitDomain is Fit with an explicit fit domain, used when several fits must
// share domain bounds (e.g. per-node cubes of a residual grid).
func FitDomain(params []float64, images *tensor.Stack, deg int, kind basis.Kind, dom basis.Domain) (*Cube, error) {
	m := len(params)
	if m == 0 || images == nil || images.N == 0 {
		return nil, errs.ErrNoSamples
	}
	if images.N != m {
		return nil, fmt.Errorf("%w: %d parameters vs %d images",
			errs.ErrSampleShapeMismatch, m, images.N)
	}
	if deg+1 > m {
		return nil, fmt.Errorf("%w: degree %d needs %d samples, have %d",
			errs.ErrDegreeExceedsSamples, deg, deg+1, m)
	}
	if dom.Width() <= 0 {
		return nil, fmt.Errorf("%w: [%g, %g]", errs.ErrDomainCollapsed, dom.Lo, dom.Hi)
	}

	npix := images.H * images.W

	// Shared design matrix: one row of basis functions per sample.
	adata := make([]float64, 0, m*(deg+1))
	for _, p := range params {
		adata = basis.Functions(adata, kind, dom, deg, p)
	}
	am := mat.NewDense(m, deg+1, adata)

	// Right-hand sides: every pixel is one column.
	bm := mat.NewDense(m, npix, images.Data)

	var qr mat.QR
	qr.Factorize(am)

	var xm mat.Dense
	if err := qr.SolveTo(&xm, false, bm); err != nil {
		return nil, fmt.Errorf("least-squares solve failed: %w", err)
	}

	cube := NewCube(deg, kind, dom, images.H, images.W)
	for i := 0; i <= deg; i++ {
		copy(cube.Planes.Data[i*npix:(i+1)*npix], xm.RawRowView(i))
	}

	return cube, nil
}
