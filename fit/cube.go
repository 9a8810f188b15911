// Package fit implements the per-pixel polynomial fitter and the coefficient
// cube it produces.
//
// A Cube holds deg+1 coefficient planes: reconstructing a monochromatic image
// at parameter x reduces to evaluating deg+1 basis functions and taking their
// dot product with the per-pixel coefficients, a single matrix product for a
// whole batch of query parameters. The same machinery serves the wavelength
// axis of the baseline model and the drift-amplitude axis of the wavefront
// drift model (whose "pixels" are a flattened baseline cube).
package fit

import (
	"gonum.org/v1/gonum/mat"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/tensor"
)

// Cube is a fitted polynomial representation: deg+1 coefficient planes plus
// the domain the fit was performed over. Cubes are immutable after creation
// and replaced wholesale on recompute; the arithmetic helpers below return
// new cubes.
type Cube struct {
	Degree int
	Kind   basis.Kind
	Domain basis.Domain

	// Planes holds Degree+1 coefficient planes of H×W pixels each.
	Planes *tensor.Stack
}

// NewCube allocates a zeroed cube of deg+1 planes of h×w pixels.
func NewCube(deg int, kind basis.Kind, dom basis.Domain, h, w int) *Cube {
	return &Cube{
		Degree: deg,
		Kind:   kind,
		Domain: dom,
		Planes: tensor.NewStack(deg+1, h, w),
	}
}

// H returns the pixel height of the coefficient planes.
func (c *Cube) H() int { return c.Planes.H }

// W returns the pixel width of the coefficient planes.
func (c *Cube) W() int { return c.Planes.W }

// NPix returns the per-plane pixel count.
func (c *Cube) NPix() int { return c.Planes.H * c.Planes.W }

// Clone returns a deep copy.
func (c *Cube) Clone() *Cube {
	return &Cube{Degree: c.Degree, Kind: c.Kind, Domain: c.Domain, Planes: c.Planes.Clone()}
}

// Sub returns c - other as a new cube. Degree and dimensions must match; used
// to form residuals against a baseline cube.
func (c *Cube) Sub(other *Cube) *Cube {
	out := c.Clone()
	out.Planes.Sub(other.Planes)

	return out
}

// AddInPlace accumulates a correction into c's planes. The correction is
// pad/cropped to c's pixel dimensions first, so undersized residual models
// never fail at query time.
func (c *Cube) AddInPlace(corr *Cube) {
	planes := corr.Planes
	if planes.H != c.Planes.H || planes.W != c.Planes.W {
		planes = tensor.PadOrCropStack(planes, c.Planes.H, c.Planes.W)
	}
	for i, v := range planes.Data {
		c.Planes.Data[i] += v
	}
}

// Eval reconstructs the image at a single parameter value.
func (c *Cube) Eval(x float64) *tensor.Image {
	return c.EvalAll([]float64{x})[0]
}

// EvalAll reconstructs one image per query parameter, in input order. All
// pixels are evaluated simultaneously as a basis-matrix by coefficient-matrix
// product.
func (c *Cube) EvalAll(xs []float64) []*tensor.Image {
	nq := len(xs)
	npix := c.NPix()

	// Basis matrix: one row of deg+1 basis function values per query.
	bdata := make([]float64, 0, nq*(c.Degree+1))
	for _, x := range xs {
		bdata = basis.Functions(bdata, c.Kind, c.Domain, c.Degree, x)
	}
	bm := mat.NewDense(nq, c.Degree+1, bdata)

	// Coefficient matrix: deg+1 rows of flattened planes.
	cm := mat.NewDense(c.Degree+1, npix, c.Planes.Data)

	var rm mat.Dense
	rm.Mul(bm, cm)

	out := make([]*tensor.Image, nq)
	for i := range out {
		pix := make([]float64, npix)
		copy(pix, rm.RawRowView(i))
		out[i] = tensor.FromSlice(c.Planes.H, c.Planes.W, pix)
	}

	return out
}

// Flatten returns the cube's planes viewed as one tall image of
// (deg+1)*H rows. The drift model fits its polynomial across stacks of these.
func (c *Cube) Flatten() *tensor.Image {
	return tensor.FromSlice((c.Degree+1)*c.Planes.H, c.Planes.W, c.Planes.Data)
}

// Unflatten reinterprets a tall image produced by Flatten as a cube with the
// given shape parameters. The image height must equal (deg+1)*h.
func Unflatten(im *tensor.Image, deg int, kind basis.Kind, dom basis.Domain, h, w int) *Cube {
	if im == nil || im.H != (deg+1)*h || im.W != w {
		return nil
	}

	return &Cube{
		Degree: deg,
		Kind:   kind,
		Domain: dom,
		Planes: &tensor.Stack{N: deg + 1, H: h, W: w, Data: im.Pix},
	}
}
