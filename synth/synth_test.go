package synth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/conf"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
	"github.com/psfkit/psfkit/gridmodel"
	"github.com/psfkit/psfkit/tensor"
)

var waveDom = basis.Domain{Lo: 1, Hi: 2}

// linearCube fits a cube whose every pixel equals 0.1*wl.
func linearCube(t *testing.T, h, w int) *fit.Cube {
	t.Helper()

	params := []float64{1, 1.5, 2}
	st := tensor.NewStack(3, h, w)
	for i, wl := range params {
		p := st.Plane(i)
		for j := range p.Pix {
			p.Pix[j] = 0.1 * wl
		}
	}
	cube, err := fit.Fit(params, st, 1, basis.Legendre)
	require.NoError(t, err)

	return cube
}

// constGrid builds a residual grid whose correction at (x, y) is
// scale*(x+y) in every coefficient of the constant plane.
func constGrid(t *testing.T, h, w int, scale float64) *gridmodel.ResidualGrid {
	t.Helper()

	axes := []float64{-2, 0, 2}
	nodes := make([]*fit.Cube, 0, 9)
	for _, y := range axes {
		for _, x := range axes {
			c := fit.NewCube(1, basis.Legendre, waveDom, h, w)
			p := c.Planes.Plane(0)
			for j := range p.Pix {
				p.Pix[j] = scale * (x + y)
			}
			nodes = append(nodes, c)
		}
	}
	g, err := gridmodel.NewResidualGrid(axes, axes, nodes)
	require.NoError(t, err)

	return g
}

func TestBatchBaselineOnly(t *testing.T) {
	s, err := New(linearCube(t, 4, 4))
	require.NoError(t, err)

	im, err := s.Image(Request{Wavelengths: []float64{1.5}})
	require.NoError(t, err)
	for _, v := range im.Pix {
		require.InDelta(t, 0.15, v, 1e-9)
	}
}

func TestSpectrumWeighting(t *testing.T) {
	s, err := New(linearCube(t, 2, 2))
	require.NoError(t, err)

	// Uniform weighting averages the two monochromatic images.
	im, err := s.Image(Request{Wavelengths: []float64{1, 2}})
	require.NoError(t, err)
	require.InDelta(t, 0.15, im.Pix[0], 1e-9)

	// A spectrum putting 3x the photons at 2um shifts the average.
	spec := &Spectrum{Wavelengths: []float64{1, 2}, Weights: []float64{1, 3}}
	im, err = s.Image(Request{Wavelengths: []float64{1, 2}, Spectrum: spec})
	require.NoError(t, err)
	require.InDelta(t, 0.25*0.1+0.75*0.2, im.Pix[0], 1e-9)
}

func TestFieldCorrectionApplied(t *testing.T) {
	s, err := New(linearCube(t, 4, 4),
		WithFieldGrid(constGrid(t, 4, 4, 0.01), conf.FrameTel))
	require.NoError(t, err)

	ims, err := s.Batch(Request{
		Wavelengths: []float64{1.5},
		Coords:      []conf.Coord{{X: 1, Y: 1}, {X: -2, Y: 0}},
		Frame:       conf.FrameTel,
	})
	require.NoError(t, err)
	require.Len(t, ims, 2)
	// Order matches the coordinate list.
	require.InDelta(t, 0.15+0.01*2, ims[0].Pix[0], 1e-9)
	require.InDelta(t, 0.15-0.01*2, ims[1].Pix[0], 1e-9)
}

func TestMaskOffsetReplacesFieldCorrection(t *testing.T) {
	s, err := New(linearCube(t, 4, 4),
		WithFieldGrid(constGrid(t, 4, 4, 100), conf.FrameTel),
		WithMaskGrid(constGrid(t, 4, 4, 0.02)))
	require.NoError(t, err)

	off := conf.Coord{X: 1, Y: 0}
	im, err := s.Image(Request{Wavelengths: []float64{1.5}, MaskOffset: &off})
	require.NoError(t, err)
	// Only the mask grid contributes.
	require.InDelta(t, 0.15+0.02, im.Pix[0], 1e-9)
}

func TestUndersizedResidualIsPadded(t *testing.T) {
	// Residual grid built at 2x2 against a 4x4 baseline: the correction is
	// padded to cube size, landing on the central pixels.
	s, err := New(linearCube(t, 4, 4),
		WithFieldGrid(constGrid(t, 2, 2, 0.01), conf.FrameTel))
	require.NoError(t, err)

	im, err := s.Image(Request{
		Wavelengths: []float64{1.5},
		Coords:      []conf.Coord{{X: 2, Y: 2}},
	})
	require.NoError(t, err)
	require.InDelta(t, 0.15+0.04, im.At(1, 1), 1e-9)
	require.InDelta(t, 0.15, im.At(0, 0), 1e-9)
}

func TestDriftCorrectionBlending(t *testing.T) {
	const h, w = 2, 2
	mkDrift := func(scale float64) *fit.Cube {
		flats := make([]*tensor.Image, len(gridmodel.DefaultDriftLadder))
		for i, d := range gridmodel.DefaultDriftLadder {
			c := fit.NewCube(1, basis.Legendre, waveDom, h, w)
			p := c.Planes.Plane(0)
			for j := range p.Pix {
				p.Pix[j] = scale * d
			}
			flats[i] = c.Flatten()
		}
		m, err := fit.Fit(gridmodel.DefaultDriftLadder, tensor.StackOf(flats),
			gridmodel.DriftDegree, basis.Legendre)
		require.NoError(t, err)

		return m
	}

	dm, err := gridmodel.NewDriftModel(mkDrift(0.001), mkDrift(0.002), 1, basis.Legendre, waveDom, h, w)
	require.NoError(t, err)

	// Transmission 1 everywhere: pure off-axis response.
	s, err := New(linearCube(t, h, w),
		WithDriftModel(dm, func(conf.Coord, conf.Frame) float64 { return 1 }))
	require.NoError(t, err)

	im, err := s.Image(Request{Wavelengths: []float64{1.5}, Drift: 10})
	require.NoError(t, err)
	require.InDelta(t, 0.15+0.002*10, im.Pix[0], 1e-6)

	// Nil transmission func: fully occulted, on-axis response.
	s, err = New(linearCube(t, h, w), WithDriftModel(dm, nil))
	require.NoError(t, err)
	im, err = s.Image(Request{Wavelengths: []float64{1.5}, Drift: 10})
	require.NoError(t, err)
	require.InDelta(t, 0.15+0.001*10, im.Pix[0], 1e-6)

	// Zero drift skips the correction entirely.
	im, err = s.Image(Request{Wavelengths: []float64{1.5}})
	require.NoError(t, err)
	require.InDelta(t, 0.15, im.Pix[0], 1e-9)
}

func TestDetectorSampledOutput(t *testing.T) {
	s, err := New(linearCube(t, 4, 4), WithOversample(2))
	require.NoError(t, err)

	im, err := s.Image(Request{Wavelengths: []float64{1.5}, DetectorSampled: true})
	require.NoError(t, err)
	require.Equal(t, 2, im.H)
	require.Equal(t, 2, im.W)
	// Block sums conserve the oversampled total.
	require.InDelta(t, 16*0.15, im.Sum(), 1e-9)
}

func TestBatchRequiresWavelengths(t *testing.T) {
	s, err := New(linearCube(t, 2, 2))
	require.NoError(t, err)

	_, err = s.Batch(Request{})
	require.ErrorIs(t, err, errs.ErrNoWavelengths)
}

func TestBatchRejectsNegativeDrift(t *testing.T) {
	s, err := New(linearCube(t, 2, 2))
	require.NoError(t, err)

	_, err = s.Batch(Request{Wavelengths: []float64{1.5}, Drift: -3})
	require.ErrorIs(t, err, errs.ErrNegativeDrift)
}

func TestZeroOffsetYieldsNominalImage(t *testing.T) {
	// Coordinates are offsets from the build position; the zero offset must
	// reproduce the bare baseline even though the grid is nonzero elsewhere.
	s, err := New(linearCube(t, 4, 4),
		WithFieldGrid(constGrid(t, 4, 4, 0.01), conf.FrameTel))
	require.NoError(t, err)

	ims, err := s.Batch(Request{
		Wavelengths: []float64{1.5},
		Coords:      []conf.Coord{{}},
		Frame:       conf.FrameTel,
	})
	require.NoError(t, err)
	require.InDelta(t, 0.15, ims[0].Pix[0], 1e-9)
}

func TestSpectrumFractions(t *testing.T) {
	var nilSpec *Spectrum
	require.Equal(t, []float64{0.5, 0.5}, nilSpec.Fractions([]float64{1, 2}))

	spec := &Spectrum{Wavelengths: []float64{1, 3}, Weights: []float64{0, 2}}
	got := spec.Fractions([]float64{1, 2, 3})
	require.InDelta(t, 0.0, got[0], 1e-12)
	require.InDelta(t, 1/3.0, got[1], 1e-12)
	require.InDelta(t, 2/3.0, got[2], 1e-12)

	// Beyond the sampled range the nearest sample extends.
	got = spec.Fractions([]float64{0.5, 4})
	require.Equal(t, []float64{0, 1}, got)
}
