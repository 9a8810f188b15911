// Package basis defines the polynomial bases a coefficient cube can be
// expressed in and evaluates their basis functions at query parameters.
//
// Two kinds are supported: a raw power series, and Legendre polynomials
// evaluated on [-1, 1] after mapping the query through the fit domain.
// Legendre is preferred for high degrees (>= 5) or many samples, where the
// Vandermonde matrix of raw powers becomes badly conditioned.
package basis

import "fmt"

// Kind selects the polynomial basis of a coefficient cube. The value is
// persisted in cache headers.
type Kind uint8

const (
	// Power is the raw power series 1, x, x², ...
	Power Kind = 0x1
	// Legendre is the orthogonal Legendre basis on [-1, 1].
	Legendre Kind = 0x2
)

func (k Kind) String() string {
	switch k {
	case Power:
		return "Power"
	case Legendre:
		return "Legendre"
	default:
		return "Unknown"
	}
}

// Valid reports whether k names a known basis.
func (k Kind) Valid() bool {
	return k == Power || k == Legendre
}

// KindFromString parses a basis name. Returns an error for unknown names.
func KindFromString(name string) (Kind, error) {
	switch name {
	case "power", "Power":
		return Power, nil
	case "legendre", "Legendre":
		return Legendre, nil
	default:
		return 0, fmt.Errorf("unknown basis kind: %q", name)
	}
}

// Domain is the closed parameter interval a cube was fitted over. Legendre
// basis functions are evaluated after mapping queries from Domain onto
// [-1, 1]; queries outside the interval extrapolate naturally.
type Domain struct {
	Lo, Hi float64
}

// Width returns Hi - Lo.
func (d Domain) Width() float64 {
	return d.Hi - d.Lo
}

// Normalize maps x from the domain onto [-1, 1].
func (d Domain) Normalize(x float64) float64 {
	return 2*(x-d.Lo)/(d.Hi-d.Lo) - 1
}

// Functions evaluates the deg+1 basis functions of kind k at x and appends
// them to dst, returning the extended slice. For the Legendre kind x is first
// mapped through the domain; the power kind uses x as-is, matching how the
// fitter built its design matrix.
func Functions(dst []float64, k Kind, d Domain, deg int, x float64) []float64 {
	switch k {
	case Legendre:
		u := d.Normalize(x)
		// Bonnet recurrence: (n+1) P_{n+1} = (2n+1) u P_n - n P_{n-1}.
		p0, p1 := 1.0, u
		dst = append(dst, p0)
		if deg >= 1 {
			dst = append(dst, p1)
		}
		for n := 1; n < deg; n++ {
			p2 := (float64(2*n+1)*u*p1 - float64(n)*p0) / float64(n+1)
			dst = append(dst, p2)
			p0, p1 = p1, p2
		}
	default: // Power
		v := 1.0
		dst = append(dst, v)
		for n := 0; n < deg; n++ {
			v *= x
			dst = append(dst, v)
		}
	}

	return dst
}
