// Package gridmodel provides residual correction models layered on top of a
// baseline coefficient cube: a 2-D grid of residual cubes indexed by field
// position or mask offset, and a 1-D wavefront-drift model with on/off-axis
// blending.
package gridmodel

import (
	"fmt"
	"math"
	"sort"

	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
)

// ResidualGrid stores per-node residual coefficient cubes on an evenly
// spaced rectangular grid. Each node cube is the difference between the
// cube fitted at that node and the baseline cube, so a lookup yields a
// correction to add to the baseline.
//
// Axes are strictly ascending and evenly spaced, which makes cell location
// an O(1) index computation. Nodes are stored y-major: Nodes[iy*len(X)+ix].
type ResidualGrid struct {
	X     []float64
	Y     []float64
	Nodes []*fit.Cube
}

// NewResidualGrid creates a residual grid from evenly spaced axes and one
// residual cube per node, stored y-major.
//
// Returns:
//   - *ResidualGrid: the constructed grid
//   - error: errs.ErrGridTooSmall when an axis has fewer than 2 entries,
//     errs.ErrGridNotAscending when an axis is not strictly ascending, or
//     errs.ErrGridShapeMismatch when the node count or node cube shapes
//     are inconsistent
func NewResidualGrid(x, y []float64, nodes []*fit.Cube) (*ResidualGrid, error) {
	if err := checkAxis("x", x); err != nil {
		return nil, err
	}
	if err := checkAxis("y", y); err != nil {
		return nil, err
	}
	if len(nodes) != len(x)*len(y) {
		return nil, fmt.Errorf("%w: %d nodes for %dx%d grid",
			errs.ErrGridShapeMismatch, len(nodes), len(x), len(y))
	}

	ref := nodes[0]
	for i, c := range nodes {
		if c == nil {
			return nil, fmt.Errorf("%w: node %d is nil", errs.ErrGridShapeMismatch, i)
		}
		if c.Degree != ref.Degree || c.H() != ref.H() || c.W() != ref.W() {
			return nil, fmt.Errorf("%w: node %d is %dx%dx%d, want %dx%dx%d",
				errs.ErrGridShapeMismatch, i,
				c.Degree+1, c.H(), c.W(), ref.Degree+1, ref.H(), ref.W())
		}
	}

	return &ResidualGrid{X: x, Y: y, Nodes: nodes}, nil
}

func checkAxis(name string, ax []float64) error {
	if len(ax) < 2 {
		return fmt.Errorf("%w: %s axis has %d nodes", errs.ErrGridTooSmall, name, len(ax))
	}
	for i := 1; i < len(ax); i++ {
		if ax[i] <= ax[i-1] {
			return fmt.Errorf("%w: %s axis at index %d", errs.ErrGridNotAscending, name, i)
		}
	}

	return nil
}

// NX returns the number of grid columns.
func (g *ResidualGrid) NX() int { return len(g.X) }

// NY returns the number of grid rows.
func (g *ResidualGrid) NY() int { return len(g.Y) }

func (g *ResidualGrid) node(ix, iy int) *fit.Cube {
	return g.Nodes[iy*len(g.X)+ix]
}

// Correction bilinearly interpolates the residual cube at (x, y).
//
// Inside the grid this is standard bilinear interpolation over the enclosing
// cell. Outside the grid extent the cell-local coordinates are left
// unclamped, so the nearest edge cell's gradient continues linearly beyond
// the border. Out-of-range queries never fail.
func (g *ResidualGrid) Correction(x, y float64) *fit.Cube {
	ix, tx := g.locate(g.X, x)
	iy, ty := g.locate(g.Y, y)

	c00 := g.node(ix, iy)
	c10 := g.node(ix+1, iy)
	c01 := g.node(ix, iy+1)
	c11 := g.node(ix+1, iy+1)

	w00 := (1 - tx) * (1 - ty)
	w10 := tx * (1 - ty)
	w01 := (1 - tx) * ty
	w11 := tx * ty

	out := fit.NewCube(c00.Degree, c00.Kind, c00.Domain, c00.H(), c00.W())
	dst := out.Planes.Data
	for i := range dst {
		dst[i] = w00*c00.Planes.Data[i] + w10*c10.Planes.Data[i] +
			w01*c01.Planes.Data[i] + w11*c11.Planes.Data[i]
	}

	return out
}

// locate returns the cell index along an even axis and the cell-local
// coordinate, which is intentionally not clamped to [0, 1].
func (g *ResidualGrid) locate(ax []float64, v float64) (int, float64) {
	n := len(ax)
	step := (ax[n-1] - ax[0]) / float64(n-1)
	f := (v - ax[0]) / step
	i := int(math.Floor(f))
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}

	return i, f - float64(i)
}

// ZeroResidualMax reports the largest absolute coefficient of the
// interpolated residual at the origin. A well-built grid has a near-zero
// residual there; callers may use this as a consistency check, it is not
// enforced at construction.
func (g *ResidualGrid) ZeroResidualMax() float64 {
	corr := g.Correction(0, 0)
	var m float64
	for _, v := range corr.Planes.Data {
		if a := math.Abs(v); a > m {
			m = a
		}
	}

	return m
}

// ResampleRegular interpolates residual cubes sampled on a non-uniform
// rectangular node grid onto an evenly spaced nx-by-ny grid spanning the
// same extent. Build-side node lists are deliberately dense near rapidly
// varying features, so the stored grid is resampled once here and cheap
// even-grid lookups are used afterwards.
//
// Input nodes are y-major over the sorted axes xs and ys.
func ResampleRegular(xs, ys []float64, nodes []*fit.Cube, nx, ny int) (*ResidualGrid, error) {
	src, err := NewResidualGrid(xs, ys, nodes)
	if err != nil {
		return nil, err
	}
	if nx < 2 || ny < 2 {
		return nil, fmt.Errorf("%w: %dx%d output grid", errs.ErrGridTooSmall, nx, ny)
	}

	ox := linspace(xs[0], xs[len(xs)-1], nx)
	oy := linspace(ys[0], ys[len(ys)-1], ny)

	out := make([]*fit.Cube, 0, nx*ny)
	for _, y := range oy {
		for _, x := range ox {
			out = append(out, interpNonuniform(src, x, y))
		}
	}

	return NewResidualGrid(ox, oy, out)
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi

	return out
}

// interpNonuniform bilinearly interpolates on a grid whose axes may be
// unevenly spaced, using binary search for cell location.
func interpNonuniform(g *ResidualGrid, x, y float64) *fit.Cube {
	ix, tx := bracket(g.X, x)
	iy, ty := bracket(g.Y, y)

	c00 := g.node(ix, iy)
	c10 := g.node(ix+1, iy)
	c01 := g.node(ix, iy+1)
	c11 := g.node(ix+1, iy+1)

	w00 := (1 - tx) * (1 - ty)
	w10 := tx * (1 - ty)
	w01 := (1 - tx) * ty
	w11 := tx * ty

	out := fit.NewCube(c00.Degree, c00.Kind, c00.Domain, c00.H(), c00.W())
	dst := out.Planes.Data
	for i := range dst {
		dst[i] = w00*c00.Planes.Data[i] + w10*c10.Planes.Data[i] +
			w01*c01.Planes.Data[i] + w11*c11.Planes.Data[i]
	}

	return out
}

func bracket(ax []float64, v float64) (int, float64) {
	i := sort.SearchFloat64s(ax, v) - 1
	if i < 0 {
		i = 0
	}
	if i > len(ax)-2 {
		i = len(ax) - 2
	}

	return i, (v - ax[i]) / (ax[i+1] - ax[i])
}
