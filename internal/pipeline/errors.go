package pipeline

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/gofiber/fiber/v3"

	"github.com/imghub/imghub/internal/codec"
	"github.com/imghub/imghub/internal/iiif"
)

// Error kinds. The text of each kind is the code placed in the "error" field
// of JSON error bodies.
var (
	ErrParse       = errors.New("bad_request")
	ErrAccess      = errors.New("unauthorized")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not_found")
	ErrTransform   = errors.New("transform_failed")
	ErrUnavailable = errors.New("unavailable")
	ErrInternal    = errors.New("internal_error")
)

var taxonomy = []struct {
	kind   error
	status int
}{
	{ErrParse, fiber.StatusBadRequest},
	{ErrAccess, fiber.StatusUnauthorized},
	{ErrForbidden, fiber.StatusForbidden},
	{ErrNotFound, fiber.StatusNotFound},
	{ErrTransform, fiber.StatusInternalServerError},
	{ErrUnavailable, fiber.StatusServiceUnavailable},
	{ErrInternal, fiber.StatusInternalServerError},
}

func failf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func wrap(kind error, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

// classify maps err onto a status code and error code. Errors that carry no
// kind are classified by their cause.
func classify(err error) (int, string) {
	for _, t := range taxonomy {
		if errors.Is(err, t.kind) {
			return t.status, t.kind.Error()
		}
	}

	var pe *iiif.ParseError
	switch {
	case errors.As(err, &pe),
		errors.Is(err, codec.ErrOutputFormat),
		errors.Is(err, codec.ErrPage):
		return fiber.StatusBadRequest, ErrParse.Error()
	case errors.Is(err, fs.ErrNotExist):
		return fiber.StatusNotFound, ErrNotFound.Error()
	case errors.Is(err, fs.ErrPermission):
		return fiber.StatusForbidden, ErrForbidden.Error()
	}
	return fiber.StatusInternalServerError, ErrInternal.Error()
}

// writeError discards any partially written body and renders err as JSON.
func writeError(c fiber.Ctx, err error) error {
	status, code := classify(err)
	c.Response().ResetBody()
	c.Response().Header.Del(fiber.HeaderContentRange)
	c.Response().Header.Del(fiber.HeaderLink)
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}
