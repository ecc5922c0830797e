package codec

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/imghub/imghub/internal/cache"
	"github.com/imghub/imghub/internal/iiif"
)

var mimeFormats = map[string]iiif.Format{
	"image/jpeg":      iiif.FormatJPEG,
	"image/png":       iiif.FormatPNG,
	"image/tiff":      iiif.FormatTIFF,
	"image/jp2":       iiif.FormatJP2,
	"image/jpx":       iiif.FormatJP2,
	"application/pdf": iiif.FormatPDF,
}

// DetectMime sniffs the content type of the file at path.
func DetectMime(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// FormatForMime maps a sniffed content type to an IIIF format.
func FormatForMime(mime string) (iiif.Format, bool) {
	m := mimetype.Lookup(mime)
	for m != nil {
		if f, ok := mimeFormats[m.String()]; ok {
			return f, true
		}
		m = m.Parent()
	}
	f, ok := mimeFormats[mime]
	return f, ok
}

// DetectFormat sniffs the file at path and returns its format and content
// type. Files of unknown type report ok=false with a nil error.
func DetectFormat(path string) (iiif.Format, string, bool, error) {
	mime, err := DetectMime(path)
	if err != nil {
		return "", "", false, err
	}
	f, ok := FormatForMime(mime)
	return f, mime, ok, nil
}

// IsTransformable reports whether a file of this content type is served
// through the IIIF image routes rather than as a plain download.
func IsTransformable(mime string) bool {
	f, ok := FormatForMime(mime)
	return ok && f != iiif.FormatPDF
}

// Probe reads the dimensions of the image at path without decoding pixels.
func (r *Registry) Probe(path string, format iiif.Format) (cache.ImageInfo, error) {
	c, ok := r.Lookup(format)
	if !ok || !c.CanDecode() {
		return cache.ImageInfo{}, fmt.Errorf("probe %s: %w", format, ErrUnsupported)
	}
	f, err := os.Open(path)
	if err != nil {
		return cache.ImageInfo{}, err
	}
	defer f.Close()
	cfg, err := c.DecodeConfig(f)
	if err != nil {
		return cache.ImageInfo{}, fmt.Errorf("probe %s: %w", path, err)
	}
	return cache.ImageInfo{Width: cfg.Width, Height: cfg.Height, Pages: 1}, nil
}
