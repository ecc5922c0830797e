package iiif

import (
	"net/url"
	"strings"
)

// Kind classifies a request path.
type Kind int

const (
	// KindBlob addresses a file directly: {prefix}/{identifier}.
	KindBlob Kind = iota
	// KindInfo addresses the image information document.
	KindInfo
	// KindImage addresses a transformed image.
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindImage:
		return "image"
	default:
		return "blob"
	}
}

// InfoSegment is the final path segment of an information request.
const InfoSegment = "info.json"

// Request is a parsed IIIF path. Region, Size, Rotation, Quality and Format
// are only populated for KindImage.
type Request struct {
	Kind       Kind
	Prefix     string
	Identifier Identifier
	Region     Region
	Size       Size
	Rotation   Rotation
	Quality    Quality
	Format     Format
}

// Dimensions are the pixel dimensions of a source image.
type Dimensions struct {
	Width  int
	Height int
}

// ParsePath parses the raw (still escaped) URL path of a request. The prefix
// may span zero or more segments; each segment is decoded separately so an
// escaped slash stays part of the identifier.
func ParsePath(raw string) (Request, error) {
	segs := splitSegments(raw)
	n := len(segs)
	if n == 0 {
		return Request{}, newParseError("path", raw, "no identifier")
	}

	var req Request
	var idx int
	switch {
	case segs[n-1] == InfoSegment && n >= 2:
		req.Kind = KindInfo
		idx = n - 2
	case n >= 5 && looksLikeQualityFormat(segs[n-1]):
		req.Kind = KindImage
		idx = n - 5
	default:
		req.Kind = KindBlob
		idx = n - 1
	}

	prefix, err := decodePrefix(segs[:idx])
	if err != nil {
		return Request{}, err
	}
	req.Prefix = prefix

	id, err := ParseIdentifier(segs[idx])
	if err != nil {
		return Request{}, err
	}
	req.Identifier = id

	if req.Kind != KindImage {
		return req, nil
	}

	if req.Region, err = ParseRegion(segs[idx+1]); err != nil {
		return Request{}, err
	}
	if req.Size, err = ParseSize(segs[idx+2]); err != nil {
		return Request{}, err
	}
	if req.Rotation, err = ParseRotation(segs[idx+3]); err != nil {
		return Request{}, err
	}
	if req.Quality, req.Format, err = ParseQualityFormat(segs[idx+4]); err != nil {
		return Request{}, err
	}
	return req, nil
}

func splitSegments(raw string) []string {
	parts := strings.Split(raw, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

func decodePrefix(segs []string) (string, error) {
	decoded := make([]string, 0, len(segs))
	for _, s := range segs {
		d, err := url.PathUnescape(s)
		if err != nil {
			return "", newParseError("prefix", s, "invalid escape")
		}
		decoded = append(decoded, d)
	}
	return strings.Join(decoded, "/"), nil
}

func escapePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	segs := strings.Split(prefix, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// BaseURI is the image base URI, scheme://host/[prefix/]identifier, used as
// the info document id and as redirect target stem.
func (r Request) BaseURI(scheme, host string) string {
	base := scheme + "://" + host + "/"
	if p := escapePrefix(r.Prefix); p != "" {
		base += p + "/"
	}
	return base + r.Identifier.String()
}

// IsLiteralIdentity reports whether the request asks for the unmodified
// source by syntax alone (full/max/0/default), without knowing dimensions.
func (r Request) IsLiteralIdentity() bool {
	return r.Region.Kind == RegionFull &&
		r.Size.Kind == SizeMax &&
		r.Rotation.IsZero() &&
		r.Quality == QualityDefault
}

// Resolve computes the transform for a source of the given dimensions. When
// limit is non-nil and the requested size exceeds it, the limit wins.
func (r Request) Resolve(dims Dimensions, limit *Size) (Resolved, error) {
	rect, full, err := r.Region.Resolve(dims.Width, dims.Height)
	if err != nil {
		return Resolved{}, err
	}
	scale, err := r.Size.Resolve(rect.W, rect.H)
	if err != nil {
		return Resolved{}, err
	}
	if limit != nil {
		capped := *limit
		capped.Upscale = true
		bound, err := capped.Resolve(rect.W, rect.H)
		if err != nil {
			return Resolved{}, err
		}
		if scale.Exceeds(bound) {
			scale = bound
		}
	}

	return Resolved{
		Prefix:     r.Prefix,
		Identifier: r.Identifier,
		Image:      dims,
		Region:     rect,
		FullRegion: full,
		Scale:      scale,
		Rotation:   r.Rotation,
		Quality:    r.Quality,
		Format:     r.Format,
	}, nil
}
