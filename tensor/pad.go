package tensor

// PadOrCrop resizes im to h×w, preserving the central region. Growth pads
// with zeros; shrinking trims borders symmetrically. The central pixel of an
// odd-sized source stays central in an odd-sized result. The original image
// is returned unchanged when the shape already matches.
//
// Residual corrections built at a reduced field of view are padded up to the
// baseline cube's size this way, and legacy cache entries one pixel larger
// than the configured field of view are cropped down.
func PadOrCrop(im *Image, h, w int) *Image {
	if im.H == h && im.W == w {
		return im
	}

	out := NewImage(h, w)

	// Overlap extents in each dimension.
	copyH := min(im.H, h)
	copyW := min(im.W, w)

	srcY := (im.H - copyH) / 2
	srcX := (im.W - copyW) / 2
	dstY := (h - copyH) / 2
	dstX := (w - copyW) / 2

	for y := 0; y < copyH; y++ {
		srcRow := im.Pix[(srcY+y)*im.W+srcX:]
		dstRow := out.Pix[(dstY+y)*w+dstX:]
		copy(dstRow[:copyW], srcRow[:copyW])
	}

	return out
}

// PadOrCropStack applies PadOrCrop to every plane of a stack.
func PadOrCropStack(s *Stack, h, w int) *Stack {
	if s.H == h && s.W == w {
		return s
	}

	out := NewStack(s.N, h, w)
	for i := 0; i < s.N; i++ {
		out.SetPlane(i, PadOrCrop(s.Plane(i), h, w))
	}

	return out
}
