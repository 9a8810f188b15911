package synth

import (
	"sort"
)

// Spectrum supplies relative photon weights over wavelength. Query-time
// reconstruction weights each monochromatic PSF by the spectrum's
// fractional contribution in that wavelength bin; a nil Spectrum means
// uniform weighting.
type Spectrum struct {
	// Wavelengths are the sample points, ascending, in the same units as
	// the fit span (microns).
	Wavelengths []float64
	// Weights are relative photon counts at each sample; absolute scale is
	// irrelevant, only fractions matter.
	Weights []float64
}

// Fractions evaluates the spectrum at each bin wavelength and normalizes
// to fractions summing to 1. Linear interpolation between samples, nearest
// sample beyond the ends. A nil spectrum, an empty spectrum, or one with
// no positive weight in the bins yields uniform fractions.
func (s *Spectrum) Fractions(bins []float64) []float64 {
	out := make([]float64, len(bins))
	if len(bins) == 0 {
		return out
	}

	uniform := func() []float64 {
		f := 1 / float64(len(bins))
		for i := range out {
			out[i] = f
		}

		return out
	}

	if s == nil || len(s.Wavelengths) == 0 || len(s.Wavelengths) != len(s.Weights) {
		return uniform()
	}

	var total float64
	for i, wl := range bins {
		w := s.at(wl)
		if w < 0 {
			w = 0
		}
		out[i] = w
		total += w
	}
	if total <= 0 {
		return uniform()
	}
	for i := range out {
		out[i] /= total
	}

	return out
}

func (s *Spectrum) at(wl float64) float64 {
	ws := s.Wavelengths
	n := len(ws)
	if wl <= ws[0] {
		return s.Weights[0]
	}
	if wl >= ws[n-1] {
		return s.Weights[n-1]
	}

	i := sort.SearchFloat64s(ws, wl)
	t := (wl - ws[i-1]) / (ws[i] - ws[i-1])

	return s.Weights[i-1] + t*(s.Weights[i]-s.Weights[i-1])
}
