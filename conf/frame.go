package conf

import (
	"fmt"
	"strings"

	"github.com/psfkit/psfkit/errs"
)

// Frame tags the coordinate frame of a field position. The set is closed:
// telescope angular, science, detector readout, and aperture-ideal frames.
type Frame uint8

const (
	// FrameTel is the telescope angular frame (arcsec from boresight).
	FrameTel Frame = 1 + iota
	// FrameSci is the science frame of the aperture.
	FrameSci
	// FrameDet is the detector readout frame.
	FrameDet
	// FrameIdl is the aperture-local ideal frame.
	FrameIdl
)

// String returns the lower-case frame tag.
func (f Frame) String() string {
	switch f {
	case FrameTel:
		return "tel"
	case FrameSci:
		return "sci"
	case FrameDet:
		return "det"
	case FrameIdl:
		return "idl"
	}

	return fmt.Sprintf("frame(%d)", uint8(f))
}

// Valid reports whether f is one of the defined frames.
func (f Frame) Valid() bool { return f >= FrameTel && f <= FrameIdl }

// ParseFrame resolves a frame tag string.
//
// Returns:
//   - Frame: the parsed frame
//   - error: errs.ErrUnknownFrame for anything outside the closed set
func ParseFrame(s string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tel":
		return FrameTel, nil
	case "sci":
		return FrameSci, nil
	case "det":
		return FrameDet, nil
	case "idl":
		return FrameIdl, nil
	}

	return 0, fmt.Errorf("%w: %q", errs.ErrUnknownFrame, s)
}

// Coord is a 2-D field coordinate in some Frame.
type Coord struct {
	X float64
	Y float64
}

// FrameConverter maps coordinates between frames. Geometry-aware
// implementations live outside this module; IdentityConverter is provided
// for instruments whose frames coincide.
type FrameConverter interface {
	Convert(c Coord, from, to Frame) (Coord, error)
}

// IdentityConverter returns coordinates unchanged for every frame pair.
type IdentityConverter struct{}

// Convert implements FrameConverter.
func (IdentityConverter) Convert(c Coord, from, to Frame) (Coord, error) {
	if !from.Valid() {
		return Coord{}, fmt.Errorf("%w: %s", errs.ErrUnknownFrame, from)
	}
	if !to.Valid() {
		return Coord{}, fmt.Errorf("%w: %s", errs.ErrUnknownFrame, to)
	}

	return c, nil
}

// TransmissionFunc reports the occulting mask's amplitude transmission at a
// field coordinate, in [0, 1]. Intensity transmission is its square.
type TransmissionFunc func(c Coord, frame Frame) float64
