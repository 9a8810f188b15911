package basis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindParsing(t *testing.T) {
	k, err := KindFromString("legendre")
	require.NoError(t, err)
	require.Equal(t, Legendre, k)

	k, err = KindFromString("Power")
	require.NoError(t, err)
	require.Equal(t, Power, k)

	_, err = KindFromString("chebyshev")
	require.Error(t, err)

	require.True(t, Legendre.Valid())
	require.False(t, Kind(9).Valid())
	require.Equal(t, "Legendre", Legendre.String())
}

func TestDomainNormalize(t *testing.T) {
	d := Domain{Lo: 1, Hi: 2}
	require.Equal(t, -1.0, d.Normalize(1))
	require.Equal(t, 1.0, d.Normalize(2))
	require.Equal(t, 0.0, d.Normalize(1.5))
	// Outside the domain extrapolates past [-1, 1].
	require.Equal(t, 3.0, d.Normalize(3))
}

func TestPowerFunctions(t *testing.T) {
	fns := Functions(nil, Power, Domain{Lo: 0, Hi: 1}, 3, 2)
	require.Equal(t, []float64{1, 2, 4, 8}, fns)
}

func TestLegendreFunctionsAtEndpoints(t *testing.T) {
	d := Domain{Lo: 5, Hi: 10}

	// P_n(1) = 1 for all n.
	fns := Functions(nil, Legendre, d, 4, 10)
	for _, v := range fns {
		require.InDelta(t, 1.0, v, 1e-14)
	}

	// P_n(-1) = (-1)^n.
	fns = Functions(nil, Legendre, d, 4, 5)
	want := []float64{1, -1, 1, -1, 1}
	for i, v := range fns {
		require.InDelta(t, want[i], v, 1e-14)
	}
}

func TestLegendreRecurrenceValues(t *testing.T) {
	// Evaluate at u=0.5 on the identity domain and compare with closed forms:
	// P2(u) = (3u²-1)/2, P3(u) = (5u³-3u)/2.
	d := Domain{Lo: -1, Hi: 1}
	fns := Functions(nil, Legendre, d, 3, 0.5)
	require.InDelta(t, 1.0, fns[0], 1e-15)
	require.InDelta(t, 0.5, fns[1], 1e-15)
	require.InDelta(t, -0.125, fns[2], 1e-15)
	require.InDelta(t, -0.4375, fns[3], 1e-15)
}

func TestFunctionsDegreeZero(t *testing.T) {
	for _, k := range []Kind{Power, Legendre} {
		fns := Functions(nil, k, Domain{Lo: 0, Hi: 1}, 0, 0.7)
		require.Equal(t, []float64{1}, fns)
	}
}
