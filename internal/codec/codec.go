package codec

import (
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/imghub/imghub/internal/iiif"
	"golang.org/x/image/tiff"
)

// DefaultJPEGQuality is used when Options.JPEGQuality is unset.
const DefaultJPEGQuality = 80

// ErrUnsupported is returned when a codec cannot decode or encode.
var ErrUnsupported = errors.New("codec: unsupported operation")

// Options tune encoding.
type Options struct {
	JPEGQuality int
}

// Codec reads and writes one image format.
type Codec interface {
	Format() iiif.Format
	MimeType() string
	CanDecode() bool
	CanEncode() bool
	DecodeConfig(r io.Reader) (image.Config, error)
	Decode(r io.Reader) (image.Image, error)
	Encode(w io.Writer, img image.Image, opts Options) error
}

type jpegCodec struct{}

func (jpegCodec) Format() iiif.Format { return iiif.FormatJPEG }
func (jpegCodec) MimeType() string    { return "image/jpeg" }
func (jpegCodec) CanDecode() bool     { return true }
func (jpegCodec) CanEncode() bool     { return true }

func (jpegCodec) DecodeConfig(r io.Reader) (image.Config, error) { return jpeg.DecodeConfig(r) }
func (jpegCodec) Decode(r io.Reader) (image.Image, error)        { return jpeg.Decode(r) }

func (jpegCodec) Encode(w io.Writer, img image.Image, opts Options) error {
	q := opts.JPEGQuality
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
}

type pngCodec struct{}

func (pngCodec) Format() iiif.Format { return iiif.FormatPNG }
func (pngCodec) MimeType() string    { return "image/png" }
func (pngCodec) CanDecode() bool     { return true }
func (pngCodec) CanEncode() bool     { return true }

func (pngCodec) DecodeConfig(r io.Reader) (image.Config, error) { return png.DecodeConfig(r) }
func (pngCodec) Decode(r io.Reader) (image.Image, error)        { return png.Decode(r) }

func (pngCodec) Encode(w io.Writer, img image.Image, _ Options) error {
	return png.Encode(w, img)
}

type tiffCodec struct{}

func (tiffCodec) Format() iiif.Format { return iiif.FormatTIFF }
func (tiffCodec) MimeType() string    { return "image/tiff" }
func (tiffCodec) CanDecode() bool     { return true }
func (tiffCodec) CanEncode() bool     { return true }

func (tiffCodec) DecodeConfig(r io.Reader) (image.Config, error) { return tiff.DecodeConfig(r) }
func (tiffCodec) Decode(r io.Reader) (image.Image, error)        { return tiff.Decode(r) }

func (tiffCodec) Encode(w io.Writer, img image.Image, _ Options) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

// opaqueCodec recognizes a format it can neither decode nor encode. Such
// sources are still served unchanged through the identity fast path.
type opaqueCodec struct {
	format iiif.Format
	mime   string
}

func (c opaqueCodec) Format() iiif.Format { return c.format }
func (c opaqueCodec) MimeType() string    { return c.mime }
func (opaqueCodec) CanDecode() bool       { return false }
func (opaqueCodec) CanEncode() bool       { return false }

func (opaqueCodec) DecodeConfig(io.Reader) (image.Config, error) {
	return image.Config{}, ErrUnsupported
}

func (opaqueCodec) Decode(io.Reader) (image.Image, error) { return nil, ErrUnsupported }

func (opaqueCodec) Encode(io.Writer, image.Image, Options) error { return ErrUnsupported }
