// Package cachestore persists fitted coefficient cubes and residual grids
// under deterministic, configuration-derived keys. One file per key and
// model axis; a fixed binary header carries everything needed to validate
// an entry before trusting it.
package cachestore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/psfkit/psfkit/conf"
)

// FileExt is the cache file extension.
const FileExt = ".pcc"

// ModelAxis tags which parameter axis an entry models.
type ModelAxis uint8

const (
	// AxisWave is the baseline wavelength cube.
	AxisWave ModelAxis = 1 + iota
	// AxisDrift is the on-axis wavefront-drift model.
	AxisDrift
	// AxisDriftOff is the occulter-disabled drift model.
	AxisDriftOff
	// AxisField is the field-position residual grid.
	AxisField
	// AxisMask is the mask-offset residual grid.
	AxisMask
)

// String returns the axis file suffix.
func (a ModelAxis) String() string {
	switch a {
	case AxisWave:
		return "wave"
	case AxisDrift:
		return "drift"
	case AxisDriftOff:
		return "driftoff"
	case AxisField:
		return "field"
	case AxisMask:
		return "mask"
	}

	return fmt.Sprintf("axis(%d)", uint8(a))
}

// Valid reports whether a is a known model axis.
func (a ModelAxis) Valid() bool { return a >= AxisWave && a <= AxisMask }

// keyFields returns the canonical key=value sequence for a snapshot. The
// field set is fixed and totally ordered: every field that affects engine
// output or the persisted model shape appears, none are conditionally
// omitted, so two configurations differing in any field hash apart. Only
// the perturbation axis values (WFEDrift, MaskOffset) stay out, since the
// models sweep those axes under one key.
func keyFields(s conf.Snapshot) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	fs := func(vs []float64) string {
		parts := make([]string, len(vs))
		for i, v := range vs {
			parts[i] = f(v)
		}

		return strings.Join(parts, "|")
	}

	return []string{
		"filter=" + s.Filter,
		"mask=" + s.ImageMask,
		"pupil=" + s.Pupil,
		"osamp=" + strconv.Itoa(s.Oversample),
		"fov=" + strconv.Itoa(s.FOVPixels),
		"jitter=" + s.JitterType,
		"jsig=" + f(s.JitterSigma),
		"wfe=" + s.WFEMapID,
		"fieldx=" + f(s.FieldPos.X),
		"fieldy=" + f(s.FieldPos.Y),
		"frame=" + s.FieldFrame.String(),
		"deg=" + strconv.Itoa(s.Degree),
		"basis=" + s.Basis.String(),
		"wmin=" + f(s.WaveMin),
		"wmax=" + f(s.WaveMax),
		"nw=" + strconv.Itoa(s.NWavelengths),
		"nodesx=" + fs(s.Geometry.OffsetsX),
		"nodesy=" + fs(s.Geometry.OffsetsY),
		"symx=" + strconv.FormatBool(s.Geometry.SymmetricX),
		"symy=" + strconv.FormatBool(s.Geometry.SymmetricY),
		"rot=" + f(s.Geometry.FrameRotation),
		"finer=" + f(s.Geometry.FineRadius),
	}
}

// KeyHash computes the deterministic 64-bit key for a snapshot.
func KeyHash(s conf.Snapshot) uint64 {
	return xxhash.Sum64String(strings.Join(keyFields(s), ","))
}

// FileName builds the cache file name for a snapshot and model axis:
// <slug>_<hash16>_<axis>.pcc. The slug is a readable element summary; the
// hash is the collision defense.
func FileName(s conf.Snapshot, axis ModelAxis) string {
	return fmt.Sprintf("%s_%016x_%s%s", slug(s), KeyHash(s), axis, FileExt)
}

// slug joins the optical element names into a lower-case token.
func slug(s conf.Snapshot) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.Filter, s.ImageMask, s.Pupil} {
		if p = sanitize(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "psf"
	}

	return strings.Join(parts, "-")
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
