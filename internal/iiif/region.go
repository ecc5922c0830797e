package iiif

import (
	"math"
	"strconv"
	"strings"
)

// RegionKind identifies the region form used in the request.
type RegionKind int

const (
	RegionFull RegionKind = iota
	RegionSquare
	RegionPixels
	RegionPercent
)

// Region is the parsed region parameter. X, Y, W, H hold either pixels or
// percentages depending on Kind.
type Region struct {
	Kind       RegionKind
	X, Y, W, H float64
}

// Rect is a region in source pixel coordinates.
type Rect struct {
	X, Y, W, H int
}

// ParseRegion parses "full", "square", "x,y,w,h" and "pct:x,y,w,h".
func ParseRegion(s string) (Region, error) {
	switch s {
	case "full":
		return Region{Kind: RegionFull}, nil
	case "square":
		return Region{Kind: RegionSquare}, nil
	}

	kind := RegionPixels
	body := s
	if rest, ok := strings.CutPrefix(s, "pct:"); ok {
		kind = RegionPercent
		body = rest
	}

	parts := strings.Split(body, ",")
	if len(parts) != 4 {
		return Region{}, newParseError("region", s, "expected four comma separated values")
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Region{}, newParseError("region", s, "invalid number")
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return Region{}, newParseError("region", s, "width and height must be positive")
	}
	if kind == RegionPercent && (vals[0] > 100 || vals[1] > 100) {
		return Region{}, newParseError("region", s, "percent origin outside the image")
	}
	return Region{Kind: kind, X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, nil
}

// Resolve converts the region to pixel coordinates for an image of size
// imgW x imgH. Negative origins are clipped and extents are clamped to the
// image bounds. The returned flag reports whether the rect covers the image.
func (r Region) Resolve(imgW, imgH int) (Rect, bool, error) {
	if imgW <= 0 || imgH <= 0 {
		return Rect{}, false, newParseError("region", "", "image has no pixels")
	}

	var x, y, w, h int
	switch r.Kind {
	case RegionFull:
		return Rect{W: imgW, H: imgH}, true, nil
	case RegionSquare:
		side := min(imgW, imgH)
		rect := Rect{X: (imgW - side) / 2, Y: (imgH - side) / 2, W: side, H: side}
		return rect, imgW == imgH, nil
	case RegionPercent:
		x = roundHalfUp(r.X * float64(imgW) / 100)
		y = roundHalfUp(r.Y * float64(imgH) / 100)
		w = roundHalfUp(r.W * float64(imgW) / 100)
		h = roundHalfUp(r.H * float64(imgH) / 100)
	default:
		x = roundHalfUp(r.X)
		y = roundHalfUp(r.Y)
		w = roundHalfUp(r.W)
		h = roundHalfUp(r.H)
	}

	if x < 0 {
		w += x
		x = 0
	} else if x >= imgW {
		return Rect{}, false, newParseError("region", r.String(), "origin outside the image")
	}
	if y < 0 {
		h += y
		y = 0
	} else if y >= imgH {
		return Rect{}, false, newParseError("region", r.String(), "origin outside the image")
	}
	if x+w > imgW {
		w = imgW - x
	}
	if y+h > imgH {
		h = imgH - y
	}
	if w <= 0 || h <= 0 {
		return Rect{}, false, newParseError("region", r.String(), "region has no pixels")
	}

	rect := Rect{X: x, Y: y, W: w, H: h}
	return rect, rect == Rect{W: imgW, H: imgH}, nil
}

func (r Region) String() string {
	switch r.Kind {
	case RegionFull:
		return "full"
	case RegionSquare:
		return "square"
	}
	s := formatFloat(r.X) + "," + formatFloat(r.Y) + "," + formatFloat(r.W) + "," + formatFloat(r.H)
	if r.Kind == RegionPercent {
		return "pct:" + s
	}
	return s
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
