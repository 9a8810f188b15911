// Package symmetry expands mask-offset node grids sampled on one explicit
// quadrant into the full grid by reflecting residual cubes across the
// offset axes. Masks with reflection symmetry only need expensive
// simulations on the non-negative side of each symmetric axis; the rest of
// the grid is generated by flipping, with an optional compensating rotation
// when the readout frame is rotated relative to the mask frame.
package symmetry

import (
	"fmt"
	"math"

	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
	"github.com/psfkit/psfkit/tensor"
)

// Axis selects the offset axis (or axes) a reflection acts across.
type Axis uint8

const (
	// AxisX mirrors offsets across x = 0, reversing image columns.
	AxisX Axis = 1 + iota
	// AxisY mirrors offsets across y = 0, reversing image rows.
	AxisY
	// AxisBoth mirrors across both axes.
	AxisBoth
)

// String returns the axis name.
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisBoth:
		return "xy"
	}

	return fmt.Sprintf("axis(%d)", uint8(a))
}

// Valid reports whether a names a known axis selection.
func (a Axis) Valid() bool { return a >= AxisX && a <= AxisBoth }

// ReflectRotate mirrors every coefficient plane of a cube across the given
// axis and then rotates it by rotDeg about the plane center. rotDeg is the
// full compensating angle; callers with a rotated readout frame pass twice
// the frame rotation, since a reflection in the mask frame appears rotated
// by that amount on the detector.
//
// Flips are exact permutations. A zero rotation keeps the result exact;
// otherwise bilinear resampling preserves total energy to interpolation
// error.
func ReflectRotate(c *fit.Cube, axis Axis, rotDeg float64) *fit.Cube {
	out := fit.NewCube(c.Degree, c.Kind, c.Domain, c.H(), c.W())
	for i := 0; i <= c.Degree; i++ {
		p := c.Planes.Plane(i)
		switch axis {
		case AxisX:
			p = tensor.FlipX(p)
		case AxisY:
			p = tensor.FlipY(p)
		case AxisBoth:
			p = tensor.FlipY(tensor.FlipX(p))
		default:
			p = p.Clone()
		}
		if rotDeg != 0 {
			p = tensor.Rotate(p, rotDeg)
		}
		out.Planes.SetPlane(i, p)
	}

	return out
}

// Stitch expands node cubes sampled on the explicit quadrant of a
// rectangular offset grid into the full grid, mirroring across the selected
// axis or axes. The explicit quadrant must include the zero offset along
// every mirrored axis as its first entry, so the zero row/column is shared
// rather than duplicated.
//
// Input and output nodes are y-major. An axis of n explicit entries expands
// to 2n-1 entries spanning [-max, max].
//
// Returns:
//   - xs, ys: the expanded axes
//   - nodes: the expanded node cubes
//   - error: errs.ErrGridNotAscending when a mirrored axis does not start
//     at zero, errs.ErrGridShapeMismatch when the node count is wrong
func Stitch(xs, ys []float64, nodes []*fit.Cube, axis Axis, rotDeg float64) ([]float64, []float64, []*fit.Cube, error) {
	if !axis.Valid() {
		return nil, nil, nil, fmt.Errorf("%w: %s", errs.ErrInvalidAxis, axis)
	}
	if len(nodes) != len(xs)*len(ys) {
		return nil, nil, nil, fmt.Errorf("%w: %d nodes for %dx%d quadrant",
			errs.ErrGridShapeMismatch, len(nodes), len(xs), len(ys))
	}

	mirrorX := axis == AxisX || axis == AxisBoth
	mirrorY := axis == AxisY || axis == AxisBoth
	if mirrorX && (len(xs) == 0 || xs[0] != 0) {
		return nil, nil, nil, fmt.Errorf("%w: x axis must start at zero", errs.ErrGridNotAscending)
	}
	if mirrorY && (len(ys) == 0 || ys[0] != 0) {
		return nil, nil, nil, fmt.Errorf("%w: y axis must start at zero", errs.ErrGridNotAscending)
	}

	fullX := mirrorAxis(xs, mirrorX)
	fullY := mirrorAxis(ys, mirrorY)

	out := make([]*fit.Cube, len(fullX)*len(fullY))
	for iy := range fullY {
		for ix := range fullX {
			sx, flipX := fold(mirrorX, ix, len(xs))
			sy, flipY := fold(mirrorY, iy, len(ys))

			src := nodes[sy*len(xs)+sx]
			switch {
			case flipX && flipY:
				out[iy*len(fullX)+ix] = ReflectRotate(src, AxisBoth, rotDeg)
			case flipX:
				out[iy*len(fullX)+ix] = ReflectRotate(src, AxisX, rotDeg)
			case flipY:
				out[iy*len(fullX)+ix] = ReflectRotate(src, AxisY, rotDeg)
			default:
				out[iy*len(fullX)+ix] = src.Clone()
			}
		}
	}

	return fullX, fullY, out, nil
}

// mirrorAxis expands [0, a1, ..., an] to [-an, ..., -a1, 0, a1, ..., an].
func mirrorAxis(ax []float64, mirror bool) []float64 {
	if !mirror {
		out := make([]float64, len(ax))
		copy(out, ax)

		return out
	}

	n := len(ax)
	out := make([]float64, 0, 2*n-1)
	for i := n - 1; i > 0; i-- {
		out = append(out, -ax[i])
	}

	return append(out, ax...)
}

// fold maps a full-axis index back onto the explicit quadrant index and
// reports whether the node is reflection-derived.
func fold(mirror bool, i, n int) (int, bool) {
	if !mirror {
		return i, false
	}
	if i < n-1 {
		return n - 1 - i, true
	}

	return i - (n - 1), false
}

// OverwriteFine replaces stitched nodes with explicitly simulated ones
// wherever a fine-region node coordinate matches a grid node. The region
// near zero offset varies too quickly for reflected values to be trusted,
// so explicit samples there always win. Fine nodes are y-major over
// (fineXs, fineYs); coordinates with no matching grid node are ignored.
func OverwriteFine(xs, ys []float64, nodes []*fit.Cube, fineXs, fineYs []float64, fine []*fit.Cube) {
	for iy, fy := range fineYs {
		gy := findCoord(ys, fy)
		if gy < 0 {
			continue
		}
		for ix, fx := range fineXs {
			gx := findCoord(xs, fx)
			if gx < 0 {
				continue
			}
			nodes[gy*len(xs)+gx] = fine[iy*len(fineXs)+ix]
		}
	}
}

func findCoord(ax []float64, v float64) int {
	const eps = 1e-9
	for i, a := range ax {
		if math.Abs(a-v) <= eps {
			return i
		}
	}

	return -1
}
