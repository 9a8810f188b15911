package tensor

// Stack is a contiguous set of N same-sized images, plane-major: image i
// occupies Data[i*H*W : (i+1)*H*W]. Monochromatic sample sets and coefficient
// planes are both stored this way.
type Stack struct {
	N, H, W int
	Data    []float64
}

// NewStack allocates a zero-filled stack of n H×W planes.
func NewStack(n, h, w int) *Stack {
	return &Stack{N: n, H: h, W: w, Data: make([]float64, n*h*w)}
}

// StackOf copies images into a new stack. All images must share dimensions
// with the first; it returns nil otherwise or when images is empty.
func StackOf(images []*Image) *Stack {
	if len(images) == 0 {
		return nil
	}

	h, w := images[0].H, images[0].W
	st := NewStack(len(images), h, w)
	for i, im := range images {
		if im == nil || im.H != h || im.W != w {
			return nil
		}
		copy(st.Data[i*h*w:(i+1)*h*w], im.Pix)
	}

	return st
}

// Plane returns image i as a view sharing the stack's storage.
func (s *Stack) Plane(i int) *Image {
	npix := s.H * s.W

	return &Image{H: s.H, W: s.W, Pix: s.Data[i*npix : (i+1)*npix]}
}

// SetPlane copies im into plane i. Dimensions must match.
func (s *Stack) SetPlane(i int, im *Image) {
	npix := s.H * s.W
	copy(s.Data[i*npix:(i+1)*npix], im.Pix)
}

// Clone returns a deep copy.
func (s *Stack) Clone() *Stack {
	out := NewStack(s.N, s.H, s.W)
	copy(out.Data, s.Data)

	return out
}

// Sub subtracts other from s in place, plane by plane. Shapes must match.
func (s *Stack) Sub(other *Stack) {
	for i, v := range other.Data {
		s.Data[i] -= v
	}
}
