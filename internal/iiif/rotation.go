package iiif

import (
	"math"
	"strconv"
	"strings"
)

// Rotation is the parsed rotation parameter. Mirror flips the image
// horizontally before rotating.
type Rotation struct {
	Degrees float64
	Mirror  bool
}

// ParseRotation parses "[!]degrees" with 0 <= degrees <= 360.
func ParseRotation(s string) (Rotation, error) {
	body, mirror := strings.CutPrefix(s, "!")
	deg, err := strconv.ParseFloat(body, 64)
	if err != nil || math.IsNaN(deg) {
		return Rotation{}, newParseError("rotation", s, "invalid number")
	}
	if deg < 0 || deg > 360 {
		return Rotation{}, newParseError("rotation", s, "degrees must be between 0 and 360")
	}
	if deg == 360 {
		deg = 0
	}
	return Rotation{Degrees: deg, Mirror: mirror}, nil
}

// IsZero reports whether the rotation leaves the image untouched.
func (r Rotation) IsZero() bool {
	return r.Degrees == 0 && !r.Mirror
}

// RightAngle reports whether the rotation is a multiple of 90 degrees.
func (r Rotation) RightAngle() bool {
	return math.Mod(r.Degrees, 90) == 0
}

// String renders the canonical form: integer degrees when whole, the
// shortest exact decimal otherwise.
func (r Rotation) String() string {
	var deg string
	if r.Degrees == math.Trunc(r.Degrees) {
		deg = strconv.Itoa(int(r.Degrees))
	} else {
		deg = strconv.FormatFloat(r.Degrees, 'f', -1, 64)
	}
	if r.Mirror {
		return "!" + deg
	}
	return deg
}
