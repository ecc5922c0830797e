package codec

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/imghub/imghub/internal/iiif"
	"golang.org/x/image/draw"
)

// ErrOutputFormat is returned when the requested output format has no encoder.
var ErrOutputFormat = errors.New("codec: output format not supported")

// ErrPage is returned when a page is requested from a single-page source.
var ErrPage = errors.New("codec: page not available")

// Transform renders the resolved request from the source file at src and
// writes the encoded result to w. A non-empty watermark names an image file
// blended over the output.
func (r *Registry) Transform(ctx context.Context, src string, srcFormat iiif.Format, res iiif.Resolved, watermark string, w io.Writer) error {
	enc, ok := r.Lookup(res.Format)
	if !ok || !enc.CanEncode() {
		return fmt.Errorf("%w: %s", ErrOutputFormat, res.Format)
	}
	if res.Identifier.Page > 1 {
		return fmt.Errorf("%w: %d", ErrPage, res.Identifier.Page)
	}

	img, err := r.decodeFile(src, srcFormat)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := crop(img, res.Region)
	if out.Bounds().Dx() != res.Scale.W || out.Bounds().Dy() != res.Scale.H {
		out = scale(out, res.Scale)
	}
	if res.Rotation.Mirror {
		out = mirror(out)
	}
	if res.Rotation.Degrees != 0 {
		out = rotate(out, res.Rotation.Degrees)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if watermark != "" {
		if err := r.applyWatermark(out, watermark); err != nil {
			return err
		}
	}

	var final image.Image = out
	switch res.Quality {
	case iiif.QualityGray:
		final = toGray(out)
	case iiif.QualityBitonal:
		final = toBitonal(out)
	}
	return enc.Encode(w, final, r.opts)
}

func (r *Registry) decodeFile(path string, format iiif.Format) (image.Image, error) {
	dec, ok := r.Lookup(format)
	if !ok || !dec.CanDecode() {
		return nil, fmt.Errorf("decode %s: %w", format, ErrUnsupported)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := dec.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func crop(img image.Image, rect iiif.Rect) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, rect.W, rect.H))
	origin := img.Bounds().Min.Add(image.Pt(rect.X, rect.Y))
	draw.Draw(dst, dst.Bounds(), img, origin, draw.Src)
	return dst
}

func scale(src *image.RGBA, sc iiif.Scale) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, sc.W, sc.H))
	var interp draw.Interpolator = draw.CatmullRom
	if sc.ReduceOnly {
		interp = draw.ApproxBiLinear
	}
	interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func mirror(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetRGBA(b.Max.X-1-(x-b.Min.X), y, src.RGBAAt(x, y))
		}
	}
	return dst
}

// rotate turns src clockwise. Multiples of 90 degrees are exact; other
// angles enlarge the canvas to the rotated bounding box and sample nearest
// neighbours.
func rotate(src *image.RGBA, degrees float64) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	switch degrees {
	case 90:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < w; y++ {
			for x := 0; x < h; x++ {
				dst.SetRGBA(x, y, src.RGBAAt(y, h-1-x))
			}
		}
		return dst
	case 180:
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetRGBA(x, y, src.RGBAAt(w-1-x, h-1-y))
			}
		}
		return dst
	case 270:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < w; y++ {
			for x := 0; x < h; x++ {
				dst.SetRGBA(x, y, src.RGBAAt(w-1-y, x))
			}
		}
		return dst
	}

	theta := degrees * math.Pi / 180
	sin, cos := math.Sin(theta), math.Cos(theta)
	nw := int(math.Ceil(math.Abs(float64(w)*cos) + math.Abs(float64(h)*sin)))
	nh := int(math.Ceil(math.Abs(float64(w)*sin) + math.Abs(float64(h)*cos)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	for dy := 0; dy < nh; dy++ {
		for dx := 0; dx < nw; dx++ {
			xr := float64(dx) + 0.5 - float64(nw)/2
			yr := float64(dy) + 0.5 - float64(nh)/2
			sx := int(math.Floor(xr*cos + yr*sin + float64(w)/2))
			sy := int(math.Floor(-xr*sin + yr*cos + float64(h)/2))
			if sx >= 0 && sx < w && sy >= 0 && sy < h {
				dst.SetRGBA(dx, dy, src.RGBAAt(sx, sy))
			}
		}
	}
	return dst
}

func (r *Registry) applyWatermark(dst *image.RGBA, path string) error {
	format, _, ok, err := DetectFormat(path)
	if err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	if !ok {
		return fmt.Errorf("watermark %s: %w", path, ErrUnsupported)
	}
	wm, err := r.decodeFile(path, format)
	if err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	b := dst.Bounds()
	scaled := image.NewRGBA(b)
	draw.ApproxBiLinear.Scale(scaled, b, wm, wm.Bounds(), draw.Src, nil)
	draw.DrawMask(dst, b, scaled, b.Min, image.NewUniform(color.Alpha{A: 96}), image.Point{}, draw.Over)
	return nil
}

func toGray(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

func toBitonal(src *image.RGBA) *image.Gray {
	dst := toGray(src)
	for i, v := range dst.Pix {
		if v < 128 {
			dst.Pix[i] = 0
		} else {
			dst.Pix[i] = 255
		}
	}
	return dst
}
