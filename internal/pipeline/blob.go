package pipeline

import (
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/imghub/imghub/internal/codec"
	"github.com/imghub/imghub/internal/iiif"
)

const blobCacheControl = "public, must-revalidate, max-age=0"

var rangePattern = regexp.MustCompile(`^bytes=\s*(\d+)-(\d*)\s*$`)

// byteRange is an inclusive byte span.
type byteRange struct {
	start, end int64
}

// parseRange interprets a single "bytes=start-end" range against a file of
// the given size. An empty end means end of file.
func parseRange(header string, size int64) (byteRange, error) {
	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return byteRange{}, failf(ErrParse, "invalid range %q", header)
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return byteRange{}, failf(ErrParse, "invalid range %q", header)
	}
	end := size - 1
	if m[2] != "" {
		if end, err = strconv.ParseInt(m[2], 10, 64); err != nil {
			return byteRange{}, failf(ErrParse, "invalid range %q", header)
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start > end || start >= size {
		return byteRange{}, failf(ErrParse, "range %q not satisfiable for %d bytes", header, size)
	}
	return byteRange{start: start, end: end}, nil
}

// serveBlobOrRedirect answers a request naming only prefix and identifier.
// Images are redirected to their info document; everything else is streamed.
func (h *Handler) serveBlobOrRedirect(c fiber.Ctx, x *exchange) error {
	if _, err := h.authorize(c, x); err != nil {
		return err
	}

	mime, err := codec.DetectMime(x.source)
	if err != nil {
		return wrap(ErrNotFound, err)
	}
	if codec.IsTransformable(mime) {
		x.kind = "redirect"
		target := x.req.BaseURI(scheme(c), c.Host()) + "/" + iiif.InfoSegment
		return c.Redirect().Status(fiber.StatusFound).To(target)
	}
	return h.streamFile(c, x.source, mime)
}

// streamFile sends the file at path, honoring one byte range.
func (h *Handler) streamFile(c fiber.Ctx, path, mime string) error {
	f, err := os.Open(path)
	if err != nil {
		return wrap(ErrNotFound, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return wrap(ErrNotFound, err)
	}
	size := st.Size()

	c.Set(fiber.HeaderContentType, mime)
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderCacheControl, blobCacheControl)
	c.Set(fiber.HeaderLastModified, st.ModTime().UTC().Format(http.TimeFormat))

	header := c.Get(fiber.HeaderRange)
	if header == "" {
		c.Status(fiber.StatusOK)
		if c.Method() == fiber.MethodHead {
			f.Close()
			c.Response().Header.SetContentLength(int(size))
			return nil
		}
		return c.SendStream(f, int(size))
	}

	br, err := parseRange(header, size)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Seek(br.start, io.SeekStart); err != nil {
		f.Close()
		return wrap(ErrInternal, err)
	}
	length := br.end - br.start + 1
	c.Set(fiber.HeaderContentRange, "bytes "+strconv.FormatInt(br.start, 10)+"-"+strconv.FormatInt(br.end, 10)+"/"+strconv.FormatInt(size, 10))
	c.Status(fiber.StatusPartialContent)
	if c.Method() == fiber.MethodHead {
		f.Close()
		c.Response().Header.SetContentLength(int(length))
		return nil
	}
	return c.SendStream(&fileSection{Reader: io.LimitReader(f, length), file: f}, int(length))
}

// fileSection closes the underlying file once fasthttp is done with the body.
type fileSection struct {
	io.Reader
	file *os.File
}

func (s *fileSection) Close() error {
	return s.file.Close()
}
