// Package tensor provides the dense float64 image and stack primitives the
// coefficient engine works on: oversampled PSF images, stacks of
// monochromatic samples, and the per-plane operations (pad/crop, flips,
// rotation) needed by residual models and symmetry reduction.
package tensor

import "math"

// Image is a dense H×W float64 image in row-major order. Pixel (y, x) lives
// at Pix[y*W+x]. The zero value is an empty image.
type Image struct {
	H, W int
	Pix  []float64
}

// NewImage allocates a zero-filled H×W image.
func NewImage(h, w int) *Image {
	return &Image{H: h, W: w, Pix: make([]float64, h*w)}
}

// FromSlice wraps pix as an H×W image without copying. The slice length must
// be exactly h*w.
func FromSlice(h, w int, pix []float64) *Image {
	if len(pix) != h*w {
		return nil
	}

	return &Image{H: h, W: w, Pix: pix}
}

// At returns pixel (y, x).
func (im *Image) At(y, x int) float64 {
	return im.Pix[y*im.W+x]
}

// Set assigns pixel (y, x).
func (im *Image) Set(y, x int, v float64) {
	im.Pix[y*im.W+x] = v
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := NewImage(im.H, im.W)
	copy(out.Pix, im.Pix)

	return out
}

// Sum returns the total intensity of the image.
func (im *Image) Sum() float64 {
	var s float64
	for _, v := range im.Pix {
		s += v
	}

	return s
}

// Scale multiplies every pixel by f in place.
func (im *Image) Scale(f float64) {
	for i := range im.Pix {
		im.Pix[i] *= f
	}
}

// Add accumulates other into im in place. Shapes must match.
func (im *Image) Add(other *Image) {
	for i, v := range other.Pix {
		im.Pix[i] += v
	}
}

// AddScaled accumulates f*other into im in place. Shapes must match.
func (im *Image) AddScaled(f float64, other *Image) {
	for i, v := range other.Pix {
		im.Pix[i] += f * v
	}
}

// MaxAbs returns the largest absolute pixel value.
func (im *Image) MaxAbs() float64 {
	var m float64
	for _, v := range im.Pix {
		if a := math.Abs(v); a > m {
			m = a
		}
	}

	return m
}

// AllNaN reports whether every pixel is NaN. Such images come out of the
// propagation engine when an optical configuration is inconsistent and must
// never enter a fit.
func (im *Image) AllNaN() bool {
	for _, v := range im.Pix {
		if !math.IsNaN(v) {
			return false
		}
	}

	return len(im.Pix) > 0
}

// HasNaN reports whether any pixel is NaN.
func (im *Image) HasNaN() bool {
	for _, v := range im.Pix {
		if math.IsNaN(v) {
			return true
		}
	}

	return false
}
