package iiif

import "strings"

// Quality selects the color treatment of the output.
type Quality string

const (
	QualityDefault Quality = "default"
	QualityColor   Quality = "color"
	QualityGray    Quality = "gray"
	QualityBitonal Quality = "bitonal"
)

// Format is an output or source image format.
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatTIFF Format = "tif"
	FormatPNG  Format = "png"
	FormatJP2  Format = "jp2"
	FormatPDF  Format = "pdf"
)

// Formats lists the formats accepted in the quality.format segment.
var Formats = []Format{FormatJPEG, FormatTIFF, FormatPNG, FormatJP2, FormatPDF}

func (q Quality) valid() bool {
	switch q {
	case QualityDefault, QualityColor, QualityGray, QualityBitonal:
		return true
	}
	return false
}

func (f Format) valid() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// ParseQualityFormat parses the final "quality.format" segment.
func ParseQualityFormat(s string) (Quality, Format, error) {
	qs, fs, ok := strings.Cut(s, ".")
	if !ok {
		return "", "", newParseError("quality", s, "expected quality.format")
	}
	q := Quality(qs)
	if !q.valid() {
		return "", "", newParseError("quality", s, "unknown quality")
	}
	f := Format(fs)
	if !f.valid() {
		return "", "", newParseError("format", s, "unknown format")
	}
	return q, f, nil
}

func looksLikeQualityFormat(s string) bool {
	qs, _, ok := strings.Cut(s, ".")
	return ok && Quality(qs).valid()
}
