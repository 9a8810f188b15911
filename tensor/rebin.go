package tensor

// RebinSum reduces an oversampled image by an integer factor, summing each
// factor×factor block into one output pixel so total flux is conserved.
// Trailing rows/columns that do not fill a block are dropped. A factor of 1
// or less returns a clone.
func RebinSum(im *Image, factor int) *Image {
	if factor <= 1 {
		return im.Clone()
	}

	oh := im.H / factor
	ow := im.W / factor
	out := NewImage(oh, ow)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			var s float64
			for dy := 0; dy < factor; dy++ {
				row := (y*factor + dy) * im.W
				for dx := 0; dx < factor; dx++ {
					s += im.Pix[row+x*factor+dx]
				}
			}
			out.Pix[y*ow+x] = s
		}
	}

	return out
}
