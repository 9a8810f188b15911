package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/tensor"
)

// gaussianImage returns an h×w image of a centered Gaussian with the given
// standard deviation, normalized to unit total.
func gaussianImage(h, w int, sigma float64) *tensor.Image {
	im := tensor.NewImage(h, w)
	cy := float64(h-1) / 2
	cx := float64(w-1) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dy := float64(y) - cy
			dx := float64(x) - cx
			im.Set(y, x, math.Exp(-(dy*dy+dx*dx)/(2*sigma*sigma)))
		}
	}
	im.Scale(1 / im.Sum())

	return im
}

// momentWidth estimates the Gaussian sigma of an image from its second
// central moment along x.
func momentWidth(im *tensor.Image) float64 {
	cx := float64(im.W-1) / 2
	var m0, m2 float64
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			v := im.At(y, x)
			d := float64(x) - cx
			m0 += v
			m2 += v * d * d
		}
	}

	return math.Sqrt(m2 / m0)
}

func quadraticStack(params []float64, h, w int) *tensor.Stack {
	st := tensor.NewStack(len(params), h, w)
	for i, p := range params {
		plane := st.Plane(i)
		for j := range plane.Pix {
			plane.Pix[j] = 1 + 2*p + 3*p*p + 0.1*float64(j)
		}
	}

	return st
}

func TestFitEvaluateRoundTrip(t *testing.T) {
	// With deg+1 == M the polynomial interpolates every training point.
	params := []float64{1.0, 1.25, 1.5, 1.75, 2.0}
	st := quadraticStack(params, 4, 4)

	for _, kind := range []basis.Kind{basis.Power, basis.Legendre} {
		cube, err := Fit(params, st, len(params)-1, kind)
		require.NoError(t, err)

		recon := cube.EvalAll(params)
		for i, im := range recon {
			want := st.Plane(i)
			for j := range im.Pix {
				require.InDelta(t, want.Pix[j], im.Pix[j], 1e-9)
			}
		}
	}
}

func TestFitDomainBoundaryIdentity(t *testing.T) {
	params := []float64{2.0, 2.5, 3.0, 3.5, 4.0}
	st := quadraticStack(params, 3, 3)

	cube, err := Fit(params, st, 2, basis.Legendre)
	require.NoError(t, err)
	require.Equal(t, basis.Domain{Lo: 2, Hi: 4}, cube.Domain)

	// The underlying signal is quadratic, so a degree-2 fit reproduces the
	// first and last training samples at the domain bounds.
	lo := cube.Eval(cube.Domain.Lo)
	hi := cube.Eval(cube.Domain.Hi)
	for j := range lo.Pix {
		require.InDelta(t, st.Plane(0).Pix[j], lo.Pix[j], 1e-9)
		require.InDelta(t, st.Plane(len(params)-1).Pix[j], hi.Pix[j], 1e-9)
	}
}

func TestFitGaussianWidthScenario(t *testing.T) {
	// Seven synthetic PSFs whose width varies linearly over [1.0, 2.0];
	// a degree-3 Legendre fit evaluated at 1.5 must recover the midpoint
	// width to within 1%.
	const n = 7
	params := make([]float64, n)
	images := make([]*tensor.Image, n)
	for i := range params {
		params[i] = 1.0 + float64(i)/float64(n-1)
		sigma := 2.0 * params[i]
		images[i] = gaussianImage(33, 33, sigma)
	}

	cube, err := Fit(params, tensor.StackOf(images), 3, basis.Legendre)
	require.NoError(t, err)

	recon := cube.Eval(1.5)
	wantSigma := 2.0 * 1.5
	require.InDelta(t, wantSigma, momentWidth(recon), 0.01*wantSigma)
}

func TestFitEvalOrderMatchesInput(t *testing.T) {
	params := []float64{0, 1, 2}
	st := quadraticStack(params, 2, 2)
	cube, err := Fit(params, st, 2, basis.Power)
	require.NoError(t, err)

	queries := []float64{2, 0, 1}
	out := cube.EvalAll(queries)
	require.Len(t, out, 3)
	require.InDelta(t, st.Plane(2).Pix[0], out[0].Pix[0], 1e-9)
	require.InDelta(t, st.Plane(0).Pix[0], out[1].Pix[0], 1e-9)
	require.InDelta(t, st.Plane(1).Pix[0], out[2].Pix[0], 1e-9)
}

func TestFitGuards(t *testing.T) {
	st := quadraticStack([]float64{1, 2}, 2, 2)

	_, err := Fit([]float64{1, 2}, st, 2, basis.Power)
	require.ErrorIs(t, err, errs.ErrDegreeExceedsSamples)

	_, err = Fit(nil, nil, 1, basis.Power)
	require.ErrorIs(t, err, errs.ErrNoSamples)

	_, err = Fit([]float64{1, 2, 3}, st, 1, basis.Power)
	require.ErrorIs(t, err, errs.ErrSampleShapeMismatch)

	_, err = Fit([]float64{2, 2}, st, 1, basis.Power)
	require.ErrorIs(t, err, errs.ErrDomainCollapsed)
}

func TestCubeSubAndAddInPlace(t *testing.T) {
	params := []float64{0, 1, 2}
	st := quadraticStack(params, 2, 2)
	cube, err := Fit(params, st, 2, basis.Power)
	require.NoError(t, err)

	resid := cube.Sub(cube)
	require.Zero(t, resid.Planes.Data[0])

	mod := cube.Clone()
	mod.AddInPlace(resid)
	require.Equal(t, cube.Planes.Data, mod.Planes.Data)
}

func TestCubeAddInPlacePadsUndersizedCorrection(t *testing.T) {
	params := []float64{0, 1}
	big, err := Fit(params, quadraticStack(params, 5, 5), 1, basis.Power)
	require.NoError(t, err)

	small := NewCube(1, basis.Power, big.Domain, 3, 3)
	for i := range small.Planes.Data {
		small.Planes.Data[i] = 1
	}

	center := big.Planes.Data[2*5+2]
	corner := big.Planes.Data[0]
	big.AddInPlace(small)
	require.Equal(t, center+1, big.Planes.Data[2*5+2])
	// Padded border is untouched.
	require.Equal(t, corner, big.Planes.Data[0])
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	params := []float64{0, 1, 2}
	cube, err := Fit(params, quadraticStack(params, 3, 4), 2, basis.Legendre)
	require.NoError(t, err)

	flat := cube.Flatten()
	require.Equal(t, (cube.Degree+1)*3, flat.H)

	back := Unflatten(flat, cube.Degree, cube.Kind, cube.Domain, 3, 4)
	require.NotNil(t, back)
	require.Equal(t, cube.Planes.Data, back.Planes.Data)

	require.Nil(t, Unflatten(flat, cube.Degree+1, cube.Kind, cube.Domain, 3, 4))
}
