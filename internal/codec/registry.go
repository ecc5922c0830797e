package codec

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/imghub/imghub/internal/iiif"
)

// Registry maps formats to codecs. It is built once at startup and shared by
// reference; there is no package-level registry.
type Registry struct {
	mu     sync.RWMutex
	codecs map[iiif.Format]Codec
	opts   Options
}

// NewRegistry returns an empty registry that encodes with opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{codecs: make(map[iiif.Format]Codec), opts: opts}
}

// NewDefaultRegistry returns a registry with the bundled codecs: jpg, png and
// tif read and write; jp2 and pdf are recognized only.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry(opts)
	r.MustRegister(jpegCodec{})
	r.MustRegister(pngCodec{})
	r.MustRegister(tiffCodec{})
	r.MustRegister(opaqueCodec{format: iiif.FormatJP2, mime: "image/jp2"})
	r.MustRegister(opaqueCodec{format: iiif.FormatPDF, mime: "application/pdf"})
	return r
}

func normalizeFormat(f iiif.Format) iiif.Format {
	return iiif.Format(strings.ToLower(strings.TrimSpace(string(f))))
}

// Register adds c; registering a format twice is an error.
func (r *Registry) Register(c Codec) error {
	key := normalizeFormat(c.Format())
	if key == "" {
		return fmt.Errorf("codec format is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.codecs[key]; exists {
		return fmt.Errorf("codec %s already registered", key)
	}
	r.codecs[key] = c
	return nil
}

// MustRegister panics when Register fails.
func (r *Registry) MustRegister(c Codec) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the codec for f.
func (r *Registry) Lookup(f iiif.Format) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[normalizeFormat(f)]
	return c, ok
}

// Formats lists registered formats in sorted order.
func (r *Registry) Formats() []iiif.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]iiif.Format, 0, len(r.codecs))
	for f := range r.codecs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanEncode reports whether f can be produced on a cache miss.
func (r *Registry) CanEncode(f iiif.Format) bool {
	c, ok := r.Lookup(f)
	return ok && c.CanEncode()
}

// MimeType returns the content type served for f.
func (r *Registry) MimeType(f iiif.Format) string {
	if c, ok := r.Lookup(f); ok {
		return c.MimeType()
	}
	return "application/octet-stream"
}
