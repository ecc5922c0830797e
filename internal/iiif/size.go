package iiif

import (
	"math"
	"strconv"
	"strings"
)

// MaxDimension caps every requested output dimension.
const MaxDimension = 32000

// SizeKind identifies the size form used in the request.
type SizeKind int

const (
	SizeMax SizeKind = iota
	SizeWidth
	SizeHeight
	SizeExact
	SizeConfined
	SizePercent
	SizeReduce
)

// Size is the parsed size parameter.
type Size struct {
	Kind    SizeKind
	W, H    int
	Percent float64
	Reduce  int
	Upscale bool
}

// Scale is a size resolved against a region. Reduce is the largest
// power-of-two reduction whose result is not smaller than the target, and
// ReduceOnly reports that the reduction alone produces exactly W x H.
type Scale struct {
	W, H       int
	Reduce     int
	ReduceOnly bool
}

// ParseSize parses "full", "max", "w,", ",h", "w,h", "!w,h", "pct:n" and
// "red:n", each optionally prefixed with "^".
func ParseSize(s string) (Size, error) {
	body, upscale := strings.CutPrefix(s, "^")
	size := Size{Upscale: upscale}

	switch {
	case body == "full" || body == "max":
		size.Kind = SizeMax
		return size, nil
	case strings.HasPrefix(body, "pct:"):
		v, err := strconv.ParseFloat(body[4:], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return Size{}, newParseError("size", s, "invalid percentage")
		}
		size.Kind = SizePercent
		size.Percent = v
		return size, nil
	case strings.HasPrefix(body, "red:"):
		v, err := strconv.Atoi(body[4:])
		if err != nil || v < 0 || v > 30 {
			return Size{}, newParseError("size", s, "invalid reduce factor")
		}
		size.Kind = SizeReduce
		size.Reduce = v
		return size, nil
	}

	confined := false
	if rest, ok := strings.CutPrefix(body, "!"); ok {
		confined = true
		body = rest
	}
	ws, hs, ok := strings.Cut(body, ",")
	if !ok {
		return Size{}, newParseError("size", s, "unrecognized size")
	}

	w, err := parseDimension(ws)
	if err != nil {
		return Size{}, newParseError("size", s, err.Error())
	}
	h, err := parseDimension(hs)
	if err != nil {
		return Size{}, newParseError("size", s, err.Error())
	}
	size.W, size.H = w, h

	switch {
	case w > 0 && h > 0 && confined:
		size.Kind = SizeConfined
	case w > 0 && h > 0:
		size.Kind = SizeExact
	case confined:
		return Size{}, newParseError("size", s, "confined size needs width and height")
	case w > 0:
		size.Kind = SizeWidth
	case h > 0:
		size.Kind = SizeHeight
	default:
		return Size{}, newParseError("size", s, "width or height required")
	}
	return size, nil
}

type dimensionError string

func (e dimensionError) Error() string { return string(e) }

func parseDimension(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, dimensionError("invalid dimension")
	}
	if v <= 0 {
		return 0, dimensionError("dimension must be positive")
	}
	return min(v, MaxDimension), nil
}

// Resolve computes the output size for a region of rw x rh pixels. Without
// the "^" prefix the result may not exceed the region: a confined size is
// clamped to it and every other form fails.
func (s Size) Resolve(rw, rh int) (Scale, error) {
	if rw <= 0 || rh <= 0 {
		return Scale{}, newParseError("size", s.String(), "empty region")
	}

	var sc Scale
	switch s.Kind {
	case SizeMax:
		sc = Scale{W: rw, H: rh, ReduceOnly: true}
	case SizeWidth:
		sc.W = s.W
		sc.H = scaleDim(rh, float64(s.W)/float64(rw))
		sc.Reduce, sc.ReduceOnly = reduceFor(rw, s.W)
		sc.ReduceOnly = sc.ReduceOnly && ceilDiv(rh, 1<<sc.Reduce) == sc.H
	case SizeHeight:
		sc.H = s.H
		sc.W = scaleDim(rw, float64(s.H)/float64(rh))
		sc.Reduce, sc.ReduceOnly = reduceFor(rh, s.H)
		sc.ReduceOnly = sc.ReduceOnly && ceilDiv(rw, 1<<sc.Reduce) == sc.W
	case SizeExact:
		sc.W, sc.H = s.W, s.H
		rx, ex := reduceFor(rw, s.W)
		ry, ey := reduceFor(rh, s.H)
		sc.Reduce = min(rx, ry)
		sc.ReduceOnly = ex && ey && rx == ry
	case SizeConfined:
		fx := float64(s.W) / float64(rw)
		fy := float64(s.H) / float64(rh)
		if fx <= fy {
			sc.W = s.W
			sc.H = min(scaleDim(rh, fx), s.H)
			sc.Reduce, sc.ReduceOnly = reduceFor(rw, sc.W)
		} else {
			sc.H = s.H
			sc.W = min(scaleDim(rw, fy), s.W)
			sc.Reduce, sc.ReduceOnly = reduceFor(rh, sc.H)
		}
		sc.ReduceOnly = sc.ReduceOnly &&
			ceilDiv(rw, 1<<sc.Reduce) == sc.W && ceilDiv(rh, 1<<sc.Reduce) == sc.H
	case SizePercent:
		f := s.Percent / 100
		sc.W = scaleDim(rw, f)
		sc.H = scaleDim(rh, f)
		rx, _ := reduceFor(rw, sc.W)
		ry, _ := reduceFor(rh, sc.H)
		sc.Reduce = min(rx, ry)
		sc.ReduceOnly = ceilDiv(rw, 1<<sc.Reduce) == sc.W && ceilDiv(rh, 1<<sc.Reduce) == sc.H
	case SizeReduce:
		sc.Reduce = s.Reduce
		sc.W = ceilDiv(rw, 1<<s.Reduce)
		sc.H = ceilDiv(rh, 1<<s.Reduce)
		sc.ReduceOnly = true
	}

	if !s.Upscale && (sc.W > rw || sc.H > rh) {
		if s.Kind != SizeConfined {
			return Scale{}, newParseError("size", s.String(), "upscaling requires ^")
		}
		sc = Scale{W: rw, H: rh, ReduceOnly: true}
	}
	if sc.W > MaxDimension || sc.H > MaxDimension {
		sc.W = min(sc.W, MaxDimension)
		sc.H = min(sc.H, MaxDimension)
		sc.ReduceOnly = false
	}
	if sc.W <= 0 || sc.H <= 0 {
		return Scale{}, newParseError("size", s.String(), "resulting size has no pixels")
	}
	return sc, nil
}

// Exceeds reports whether sc is larger than limit in either dimension.
func (sc Scale) Exceeds(limit Scale) bool {
	return sc.W > limit.W || sc.H > limit.H
}

func (s Size) String() string {
	var body string
	switch s.Kind {
	case SizeMax:
		body = "max"
	case SizeWidth:
		body = strconv.Itoa(s.W) + ","
	case SizeHeight:
		body = "," + strconv.Itoa(s.H)
	case SizeExact:
		body = strconv.Itoa(s.W) + "," + strconv.Itoa(s.H)
	case SizeConfined:
		body = "!" + strconv.Itoa(s.W) + "," + strconv.Itoa(s.H)
	case SizePercent:
		body = "pct:" + formatFloat(s.Percent)
	case SizeReduce:
		body = "red:" + strconv.Itoa(s.Reduce)
	}
	if s.Upscale {
		return "^" + body
	}
	return body
}

func scaleDim(n int, f float64) int {
	return max(1, roundHalfUp(float64(n)*f))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// reduceFor returns the largest r such that ceil(src / 2^r) >= target and
// whether that reduction hits target exactly.
func reduceFor(src, target int) (int, bool) {
	r := 0
	for 1<<(r+1) <= src && ceilDiv(src, 1<<(r+1)) >= target {
		r++
	}
	return r, ceilDiv(src, 1<<r) == target
}
