package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/imghub/imghub/internal/cache"
	"github.com/imghub/imghub/internal/codec"
	"github.com/imghub/imghub/internal/iiif"
	"github.com/imghub/imghub/internal/metrics"
	"github.com/imghub/imghub/internal/preflight"
)

// restriction is what a restrict decision imposes on the output.
type restriction struct {
	limit     *iiif.Size
	watermark string
}

func restrictionFor(res preflight.Result) (restriction, error) {
	if res.Type != preflight.TypeRestrict {
		return restriction{}, nil
	}
	if res.Size == "" && res.Watermark == "" {
		return restriction{}, failf(ErrAccess, "restricted without size or watermark")
	}
	r := restriction{watermark: res.Watermark}
	if res.Size != "" {
		size, err := iiif.ParseSize(res.Size)
		if err != nil {
			return restriction{}, wrap(ErrInternal, fmt.Errorf("preflight restriction size: %w", err))
		}
		r.limit = &size
	}
	return r, nil
}

// serveTransform produces the requested image: the source itself when the
// request is the identity, a cached artifact when one is fresh, otherwise a
// new rendering that is stored while it is sent.
func (h *Handler) serveTransform(c fiber.Ctx, x *exchange) error {
	req := x.req
	res, err := h.authorize(c, x)
	if err != nil {
		return err
	}
	restrict, err := restrictionFor(res)
	if err != nil {
		return err
	}

	format, mime, ok, err := codec.DetectFormat(x.source)
	if err != nil {
		return wrap(ErrNotFound, err)
	}
	if !ok {
		return failf(ErrParse, "%s is not an image", req.Identifier.Name)
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")

	if src, found := h.codecs.Lookup(format); !found || !src.CanDecode() {
		return h.serveOpaque(c, x, format, mime, restrict)
	}

	info, err := h.dimensions(x.source, format)
	if err != nil {
		return err
	}
	resolved, err := req.Resolve(iiif.Dimensions{Width: info.Width, Height: info.Height}, restrict.limit)
	if err != nil {
		return wrap(ErrParse, err)
	}

	host := c.Host()
	x.canonical = resolved.CanonicalKey(host)
	c.Set(fiber.HeaderLink, "<"+resolved.CanonicalURL(scheme(c), host)+`>;rel="canonical"`)

	if restrict.watermark == "" && resolved.IsIdentity(format) {
		h.metrics.CacheResult(metrics.ResultFastPath)
		return h.streamFile(c, x.source, mime)
	}
	if !h.codecs.CanEncode(resolved.Format) {
		return wrap(ErrParse, fmt.Errorf("%w: %s", codec.ErrOutputFormat, resolved.Format))
	}

	outMime := h.codecs.MimeType(resolved.Format)
	// The canonical key does not carry the watermark, so watermarked output
	// never enters or leaves the cache.
	if h.cache == nil || restrict.watermark != "" {
		h.metrics.CacheResult(metrics.ResultBypass)
		return h.render(c, x, format, resolved, restrict.watermark, outMime)
	}

	if served, err := h.serveCached(c, x, outMime); served || err != nil {
		return err
	}
	h.metrics.CacheResult(metrics.ResultMiss)
	return h.renderAndCache(c, x, format, resolved, restrict.watermark, info, outMime)
}

// serveOpaque handles sources without a decoder: they can only be sent as
// they are. A PDF without a page may only be requested as identity.
func (h *Handler) serveOpaque(c fiber.Ctx, x *exchange, format iiif.Format, mime string, restrict restriction) error {
	req := x.req
	if !req.IsLiteralIdentity() || req.Format != format || req.Identifier.Page != 0 {
		if format == iiif.FormatPDF && req.Identifier.Page == 0 {
			return failf(ErrParse, "a PDF without page can only be requested as full/max/0/default.pdf")
		}
		return failf(ErrTransform, "%s sources can only be served unchanged", format)
	}
	if restrict.limit != nil || restrict.watermark != "" {
		return failf(ErrForbidden, "restricted %s source cannot be served", format)
	}
	h.metrics.CacheResult(metrics.ResultFastPath)
	return h.streamFile(c, x.source, mime)
}

// serveCached streams a fresh cache artifact. It reports false when the
// request has to be rendered.
func (h *Handler) serveCached(c fiber.Ctx, x *exchange, mime string) (bool, error) {
	path, hit, err := h.cache.Check(x.source, x.canonical)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, wrap(ErrNotFound, err)
		}
		h.logger.WithError(err).WithField("canonical", x.canonical).Warn("cache_check_failed")
		return false, nil
	}
	if !hit {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		// evicted between lookup and open
		h.logger.WithError(err).WithField("canonical", x.canonical).Warn("cache_open_failed")
		return false, nil
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return false, nil
	}

	x.cacheHit = true
	h.metrics.CacheResult(metrics.ResultHit)
	c.Set(fiber.HeaderContentType, mime)
	c.Status(fiber.StatusOK)
	if c.Method() == fiber.MethodHead {
		f.Close()
		c.Response().Header.SetContentLength(int(st.Size()))
		return true, nil
	}
	return true, c.SendStream(f, int(st.Size()))
}

func (h *Handler) render(c fiber.Ctx, x *exchange, format iiif.Format, res iiif.Resolved, watermark, mime string) error {
	c.Set(fiber.HeaderContentType, mime)
	if err := h.codecs.Transform(requestContext(c), x.source, format, res, watermark, c.Response().BodyWriter()); err != nil {
		return transformError(err)
	}
	c.Status(fiber.StatusOK)
	return nil
}

// renderAndCache encodes into the response body and a new cache file at the
// same time. The artifact is registered only after a complete encode.
func (h *Handler) renderAndCache(c fiber.Ctx, x *exchange, format iiif.Format, res iiif.Resolved, watermark string, info cache.ImageInfo, mime string) error {
	w, err := h.cache.Create()
	if err != nil {
		return wrap(ErrUnavailable, err)
	}

	c.Set(fiber.HeaderContentType, mime)
	out := io.MultiWriter(c.Response().BodyWriter(), w)
	if err := h.codecs.Transform(requestContext(c), x.source, format, res, watermark, out); err != nil {
		w.Abort()
		return transformError(err)
	}
	if err := w.Commit(x.source, x.canonical, info); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"canonical": x.canonical,
			"cachefile": w.Path(),
		}).Warn("cache_add_failed")
	}
	c.Status(fiber.StatusOK)
	return nil
}

func transformError(err error) error {
	if errors.Is(err, codec.ErrOutputFormat) || errors.Is(err, codec.ErrPage) {
		return wrap(ErrParse, err)
	}
	return wrap(ErrTransform, err)
}
