package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the Fiber application behaves.
type AppOptions struct {
	Logger *logrus.Logger
	Routes *RouteTable
	// Scheduler, when set, receives the connection state callbacks.
	Scheduler      *Scheduler
	KeepAlive      time.Duration
	MaxRequestBody int
}

const contextKeyRequestID = "_imghub_request_id"

// AdminPrefix is the path prefix of administrative and diagnostic routes.
const AdminPrefix = "/-/"

// NewApp builds a Fiber application that dispatches every request through
// the route table.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Routes == nil {
		return nil, errors.New("route table is required")
	}

	cfg := fiber.Config{
		CaseSensitive: true,
		IdleTimeout:   opts.KeepAlive,
		ErrorHandler:  errorHandler(opts.Logger),
	}
	if opts.MaxRequestBody > 0 {
		cfg.BodyLimit = opts.MaxRequestBody
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.All("/*", opts.Routes.Handle)

	if opts.Scheduler != nil {
		opts.Scheduler.Attach(app.Server())
	}
	return app, nil
}

// requestContextMiddleware assigns every request an ID, echoed in the
// X-Request-ID response header.
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler renders errors that escaped the handlers, including
// recovered panics, as JSON.
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "request",
				"path":       c.Path(),
				"status":     status,
				"request_id": RequestID(c),
			}).Error("request_failed")
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   statusCode(status),
			"message": err.Error(),
		})
	}
}

func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
