package tensor

import "math"

// FlipY returns a copy of im mirrored across the horizontal axis (row order
// reversed).
func FlipY(im *Image) *Image {
	out := NewImage(im.H, im.W)
	for y := 0; y < im.H; y++ {
		src := im.Pix[(im.H-1-y)*im.W:]
		copy(out.Pix[y*im.W:(y+1)*im.W], src[:im.W])
	}

	return out
}

// FlipX returns a copy of im mirrored across the vertical axis (column order
// reversed within each row).
func FlipX(im *Image) *Image {
	out := NewImage(im.H, im.W)
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			out.Pix[y*im.W+x] = im.Pix[y*im.W+(im.W-1-x)]
		}
	}

	return out
}

// Rotate returns im rotated counterclockwise by angle degrees about the image
// center, resampled bilinearly. Samples falling outside the source are taken
// from the nearest edge pixel so border energy is not invented or lost at
// small angles. A zero angle returns an exact copy.
func Rotate(im *Image, angleDeg float64) *Image {
	if angleDeg == 0 {
		return im.Clone()
	}

	out := NewImage(im.H, im.W)
	cy := float64(im.H-1) / 2
	cx := float64(im.W-1) / 2

	theta := angleDeg * math.Pi / 180
	sin, cos := math.Sincos(theta)

	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			// Inverse-map the output pixel into source coordinates.
			dy := float64(y) - cy
			dx := float64(x) - cx
			sx := cx + cos*dx + sin*dy
			sy := cy - sin*dx + cos*dy

			out.Pix[y*im.W+x] = bilinearClamped(im, sy, sx)
		}
	}

	return out
}

// bilinearClamped samples im at fractional (y, x), clamping to the image
// border.
func bilinearClamped(im *Image, y, x float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	tx := x - float64(x0)
	ty := y - float64(y0)

	clampY := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= im.H {
			return im.H - 1
		}
		return v
	}
	clampX := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= im.W {
			return im.W - 1
		}
		return v
	}

	y0c, y1c := clampY(y0), clampY(y0+1)
	x0c, x1c := clampX(x0), clampX(x0+1)

	v00 := im.Pix[y0c*im.W+x0c]
	v01 := im.Pix[y0c*im.W+x1c]
	v10 := im.Pix[y1c*im.W+x0c]
	v11 := im.Pix[y1c*im.W+x1c]

	top := v00 + tx*(v01-v00)
	bot := v10 + tx*(v11-v10)

	return top + ty*(bot-top)
}
