package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/imghub/imghub/internal/cache"
	"github.com/imghub/imghub/internal/codec"
	"github.com/imghub/imghub/internal/iiif"
	"github.com/imghub/imghub/internal/logging"
	"github.com/imghub/imghub/internal/metrics"
	"github.com/imghub/imghub/internal/preflight"
	"github.com/imghub/imghub/internal/server"
)

// Options wires the collaborators of a Handler. Cache and Metrics may be nil.
type Options struct {
	Logger    *logrus.Logger
	Resolver  *Resolver
	Preflight preflight.Invoker
	Codecs    *codec.Registry
	Cache     *cache.Cache
	Metrics   *metrics.Metrics
}

// Handler serves IIIF image requests: info documents, plain file downloads
// and transformed images backed by the artifact cache.
type Handler struct {
	logger    *logrus.Logger
	resolver  *Resolver
	preflight preflight.Invoker
	codecs    *codec.Registry
	cache     *cache.Cache
	metrics   *metrics.Metrics
	probes    singleflight.Group
}

// NewHandler validates opts and builds a Handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if opts.Codecs == nil {
		return nil, errors.New("codec registry is required")
	}
	pf := opts.Preflight
	if pf == nil {
		pf = preflight.Static{}
	}
	return &Handler{
		logger:    opts.Logger,
		resolver:  opts.Resolver,
		preflight: pf,
		codecs:    opts.Codecs,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
	}, nil
}

// exchange collects what one request learned along the way for the final log
// line.
type exchange struct {
	req        iiif.Request
	kind       string
	permission string
	source     string
	canonical  string
	cacheHit   bool
}

// Serve parses the request path and dispatches to the info, blob or
// transform flow. Failures are rendered as JSON and logged once.
func (h *Handler) Serve(c fiber.Ctx) error {
	started := time.Now()
	x := &exchange{kind: "unknown"}

	err := h.dispatch(c, x)
	var werr error
	if err != nil {
		werr = writeError(c, err)
	}

	status := c.Response().StatusCode()
	h.logResult(c, x, status, started, err)
	h.metrics.ObserveRequest(x.kind, status, time.Since(started))
	return werr
}

func (h *Handler) dispatch(c fiber.Ctx, x *exchange) error {
	req, err := iiif.ParsePath(string(c.Request().URI().PathOriginal()))
	if err != nil {
		return wrap(ErrParse, err)
	}
	x.req = req
	x.kind = req.Kind.String()

	switch req.Kind {
	case iiif.KindInfo:
		return h.serveInfo(c, x)
	case iiif.KindImage:
		return h.serveTransform(c, x)
	default:
		return h.serveBlobOrRedirect(c, x)
	}
}

// authorize runs the preflight hook and locates the source file. A deny
// decision is returned as ErrAccess.
func (h *Handler) authorize(c fiber.Ctx, x *exchange) (preflight.Result, error) {
	req := x.req
	res, err := h.preflight.Preflight(requestContext(c), req.Prefix, req.Identifier.Name, c.Get(fiber.HeaderCookie))
	if err != nil {
		return res, wrap(ErrInternal, err)
	}
	x.permission = string(res.Type)
	if res.Type == preflight.TypeDeny {
		return res, failf(ErrAccess, "access to %s denied", req.Identifier.Name)
	}

	var source string
	if res.InFile != "" {
		source = h.resolver.Shard(req.Prefix, res.InFile)
	} else {
		source, err = h.resolver.Resolve(req.Prefix, req.Identifier.Name)
		if err != nil {
			return res, err
		}
	}

	f, err := os.Open(source)
	if err != nil {
		return res, failf(ErrNotFound, "cannot read image file %s", req.Identifier.Name)
	}
	st, err := f.Stat()
	f.Close()
	if err != nil || !st.Mode().IsRegular() {
		return res, failf(ErrNotFound, "cannot read image file %s", req.Identifier.Name)
	}
	x.source = source
	return res, nil
}

// dimensions returns the image metadata of source, from the cache size table
// when fresh, otherwise by probing the file. Concurrent probes of the same
// file share one read.
func (h *Handler) dimensions(source string, format iiif.Format) (cache.ImageInfo, error) {
	if h.cache != nil {
		info, ok, err := h.cache.GetSize(source)
		if err != nil {
			h.logger.WithError(err).WithField("source", source).Warn("cache_size_lookup_failed")
		}
		if ok {
			return info, nil
		}
	}

	v, err, _ := h.probes.Do(source, func() (any, error) {
		return h.codecs.Probe(source, format)
	})
	if err != nil {
		return cache.ImageInfo{}, wrap(ErrTransform, fmt.Errorf("reading image dimensions: %w", err))
	}
	return v.(cache.ImageInfo), nil
}

func (h *Handler) logResult(c fiber.Ctx, x *exchange, status int, started time.Time, err error) {
	fields := logging.RequestFields(x.req.Prefix, x.req.Identifier.Name, x.kind, x.permission, x.cacheHit)
	fields["action"] = "serve"
	fields["method"] = c.Method()
	fields["path"] = string(c.Request().URI().PathOriginal())
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if x.canonical != "" {
		fields["canonical"] = x.canonical
	}
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if status >= fiber.StatusInternalServerError {
			h.logger.WithFields(fields).Error("serve_failed")
			return
		}
		h.logger.WithFields(fields).Warn("serve_rejected")
		return
	}
	h.logger.WithFields(fields).Info("serve_complete")
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func scheme(c fiber.Ctx) string {
	if c.Secure() {
		return "https"
	}
	return "http"
}
