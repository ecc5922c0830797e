package iiif

import (
	"strconv"
	"strings"
)

// Resolved is a request resolved against concrete source dimensions. It is
// computed once per request and drives both the transform and the cache key.
type Resolved struct {
	Prefix     string
	Identifier Identifier
	Image      Dimensions
	Region     Rect
	FullRegion bool
	Scale      Scale
	Rotation   Rotation
	Quality    Quality
	Format     Format
}

// CanonicalRegion renders the region as "full" or "x,y,w,h".
func (r Resolved) CanonicalRegion() string {
	if r.FullRegion {
		return "full"
	}
	return strconv.Itoa(r.Region.X) + "," + strconv.Itoa(r.Region.Y) + "," +
		strconv.Itoa(r.Region.W) + "," + strconv.Itoa(r.Region.H)
}

// CanonicalSize renders the size as "max", "w,h" or "^w,h" when the output
// is larger than the region.
func (r Resolved) CanonicalSize() string {
	if r.Scale.W == r.Region.W && r.Scale.H == r.Region.H {
		return "max"
	}
	size := strconv.Itoa(r.Scale.W) + "," + strconv.Itoa(r.Scale.H)
	if r.Scale.W > r.Region.W || r.Scale.H > r.Region.H {
		return "^" + size
	}
	return size
}

func (r Resolved) segments(quality Quality) []string {
	segs := make([]string, 0, 6)
	if p := escapePrefix(r.Prefix); p != "" {
		segs = append(segs, p)
	}
	return append(segs,
		r.Identifier.String(),
		r.CanonicalRegion(),
		r.CanonicalSize(),
		r.Rotation.String(),
		string(quality)+"."+string(r.Format),
	)
}

// CanonicalKey is the cache key of the artifact this request produces.
func (r Resolved) CanonicalKey(host string) string {
	return host + "/" + strings.Join(r.segments(r.Quality), "/")
}

// CanonicalURL is the URL advertised in the canonical Link header. The color
// quality renders as default since the two are equivalent for the output.
func (r Resolved) CanonicalURL(scheme, host string) string {
	q := r.Quality
	if q == QualityColor {
		q = QualityDefault
	}
	return scheme + "://" + host + "/" + strings.Join(r.segments(q), "/")
}

// IsIdentity reports whether serving the source file unchanged satisfies the
// request.
func (r Resolved) IsIdentity(source Format) bool {
	return r.FullRegion &&
		r.Scale.W == r.Image.Width && r.Scale.H == r.Image.Height &&
		r.Rotation.IsZero() &&
		r.Quality == QualityDefault &&
		r.Format == source &&
		r.Identifier.Page == 0
}
