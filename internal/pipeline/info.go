package pipeline

import (
	"github.com/gofiber/fiber/v3"

	"github.com/imghub/imghub/internal/cache"
	"github.com/imghub/imghub/internal/codec"
	"github.com/imghub/imghub/internal/iiif"
	"github.com/imghub/imghub/internal/preflight"
)

const (
	imageContext   = "http://iiif.io/api/image/3/context.json"
	authContext    = "http://iiif.io/api/auth/1/context.json"
	authProfileURI = "http://iiif.io/api/auth/1/"
	jsonLDMime     = "application/ld+json"
	jsonLDLink     = `<http://iiif.io/api/image/3/context.json>; rel="http://www.w3.org/ns/json-ld#context"; type="application/ld+json"`

	// Sizes stop once both edges drop below this many pixels.
	minAdvertisedSize = 128
	defaultLevels     = 5
)

var (
	preferredFormats = []string{"jpg", "tif", "jp2", "png"}
	extraFeatures    = []string{
		"baseUriRedirect",
		"canonicalLinkHeader",
		"cors",
		"jsonldMediaType",
		"mirroring",
		"profileLinkHeader",
		"regionByPct",
		"regionByPx",
		"regionSquare",
		"rotationArbitrary",
		"rotationBy90s",
		"sizeByConfinedWh",
		"sizeByH",
		"sizeByPct",
		"sizeByW",
		"sizeByWh",
		"sizeUpscaling",
	}
)

type sizeEntry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type tileEntry struct {
	Width        int   `json:"width"`
	Height       int   `json:"height"`
	ScaleFactors []int `json:"scaleFactors"`
}

// InfoDocument is the IIIF Image API 3 image information document.
type InfoDocument struct {
	Context          string           `json:"@context"`
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Protocol         string           `json:"protocol"`
	Profile          string           `json:"profile"`
	Service          []map[string]any `json:"service,omitempty"`
	Width            int              `json:"width"`
	Height           int              `json:"height"`
	NumPages         int              `json:"numpages,omitempty"`
	Sizes            []sizeEntry      `json:"sizes"`
	Tiles            []tileEntry      `json:"tiles,omitempty"`
	ExtraFormats     []string         `json:"extraFormats"`
	PreferredFormats []string         `json:"preferredFormats"`
	ExtraFeatures    []string         `json:"extraFeatures"`
}

func (h *Handler) serveInfo(c fiber.Ctx, x *exchange) error {
	res, err := h.authorize(c, x)
	if err != nil {
		return err
	}

	format, _, ok, err := codec.DetectFormat(x.source)
	if err != nil {
		return wrap(ErrNotFound, err)
	}
	if !ok {
		return failf(ErrNotFound, "%s is not an image", x.req.Identifier.Name)
	}

	info, err := h.dimensions(x.source, format)
	if err != nil {
		return err
	}

	doc := buildInfo(x.req.BaseURI(scheme(c), c.Host()), info, h.extraFormats())
	status := fiber.StatusOK
	if res.Type.IsAuthService() {
		svc, err := authService(res)
		if err != nil {
			return err
		}
		doc.Service = []map[string]any{svc}
		status = fiber.StatusUnauthorized
	}

	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Status(status)
	if c.Get(fiber.HeaderAccept) == jsonLDMime {
		return c.JSON(doc, jsonLDMime+`;profile="`+imageContext+`"`)
	}
	c.Set(fiber.HeaderLink, jsonLDLink)
	return c.JSON(doc)
}

func buildInfo(id string, info cache.ImageInfo, extra []string) InfoDocument {
	doc := InfoDocument{
		Context:          imageContext,
		ID:               id,
		Type:             "ImageService3",
		Protocol:         "http://iiif.io/api/image",
		Profile:          "level2",
		Width:            info.Width,
		Height:           info.Height,
		Sizes:            []sizeEntry{},
		ExtraFormats:     extra,
		PreferredFormats: preferredFormats,
		ExtraFeatures:    extraFeatures,
	}
	if info.Pages > 1 {
		doc.NumPages = info.Pages
	}

	levels := info.Levels
	if levels <= 0 {
		levels = defaultLevels
	}
	for i := 1; i < levels; i++ {
		w := ceilShift(info.Width, i)
		hgt := ceilShift(info.Height, i)
		if w < minAdvertisedSize && hgt < minAdvertisedSize {
			break
		}
		doc.Sizes = append(doc.Sizes, sizeEntry{Width: w, Height: hgt})
	}

	if info.TileWidth > 0 && info.TileHeight > 0 {
		factors := make([]int, 0, levels-1)
		for i := 1; i < levels; i++ {
			factors = append(factors, i)
		}
		doc.Tiles = []tileEntry{{Width: info.TileWidth, Height: info.TileHeight, ScaleFactors: factors}}
	}
	return doc
}

// extraFormats lists the registered formats beyond the jpg and png every
// level 2 server supports.
func (h *Handler) extraFormats() []string {
	out := []string{}
	for _, f := range h.codecs.Formats() {
		if f == iiif.FormatJPEG || f == iiif.FormatPNG {
			continue
		}
		out = append(out, string(f))
	}
	return out
}

func ceilShift(n, shift int) int {
	d := 1 << shift
	return (n + d - 1) / d
}

// authService builds the IIIF Auth 1 cookie service for login-like
// decisions. Extra script attributes are copied into the descriptor.
func authService(res preflight.Result) (map[string]any, error) {
	if res.CookieURL == "" {
		return nil, failf(ErrInternal, "preflight returned %s without cookieUrl", res.Type)
	}
	if res.TokenURL == "" {
		return nil, failf(ErrInternal, "preflight returned %s without tokenUrl", res.Type)
	}

	svc := map[string]any{
		"@context": authContext,
		"@id":      res.CookieURL,
		"profile":  authProfileURI + string(res.Type),
	}
	for k, v := range res.Attributes {
		svc[k] = v
	}
	sub := []map[string]any{{
		"@id":     res.TokenURL,
		"profile": authProfileURI + "token",
	}}
	if res.LogoutURL != "" {
		sub = append(sub, map[string]any{
			"@id":     res.LogoutURL,
			"profile": authProfileURI + "logout",
		})
	}
	svc["service"] = sub
	return svc, nil
}
