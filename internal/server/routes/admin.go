package routes

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/imghub/imghub/internal/cache"
	"github.com/imghub/imghub/internal/metrics"
	"github.com/imghub/imghub/internal/server"
)

// Options lists what the administrative routes expose. Cache, Scheduler and
// Metrics may be nil; DocRoot enables static documents under DocRoute.
type Options struct {
	Cache     *cache.Cache
	Scheduler metrics.SchedulerStats
	Metrics   *metrics.Metrics
	DocRoot   string
	DocRoute  string
}

// Register adds the /-/ diagnostics, the favicon and the document routes to
// table.
func Register(table *server.RouteTable, opts Options) error {
	if table == nil {
		return errors.New("route table is required")
	}
	admin := server.AdminPrefix

	routes := []server.Route{
		{Method: fiber.MethodGet, Prefix: admin + "cache", Handler: listCache(opts.Cache)},
		{Method: fiber.MethodDelete, Prefix: admin + "cache", Handler: removeCache(opts.Cache)},
		{Method: fiber.MethodPost, Prefix: admin + "cache/purge", Handler: purgeCache(opts.Cache)},
		{Method: fiber.MethodGet, Prefix: admin + "stats", Handler: stats(opts)},
		{Method: fiber.MethodGet, Prefix: "/favicon.ico", Handler: func(c fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNoContent)
		}},
	}
	if opts.Metrics != nil {
		routes = append(routes, server.Route{
			Method:  fiber.MethodGet,
			Prefix:  admin + "metrics",
			Handler: adaptor.HTTPHandler(opts.Metrics.Handler()),
		})
	}
	if opts.DocRoot != "" && opts.DocRoute != "" {
		routes = append(routes, server.Route{
			Method:  fiber.MethodGet,
			Prefix:  opts.DocRoute,
			Handler: documents(opts.DocRoot, opts.DocRoute),
		})
	}

	for _, r := range routes {
		if err := table.Add(r.Method, r.Prefix, r.Handler); err != nil {
			return err
		}
	}
	return nil
}

type entryPayload struct {
	Canonical  string          `json:"canonical"`
	OrigPath   string          `json:"origpath"`
	CachePath  string          `json:"cachepath"`
	Size       int64           `json:"size"`
	Info       cache.ImageInfo `json:"info"`
	MTime      time.Time       `json:"mtime"`
	AccessTime time.Time       `json:"access_time"`
}

func encodeEntries(records []cache.Record) []entryPayload {
	result := make([]entryPayload, 0, len(records))
	for _, rec := range records {
		result = append(result, entryPayload{
			Canonical:  rec.Canonical,
			OrigPath:   rec.OrigPath,
			CachePath:  rec.CachePath,
			Size:       rec.Size,
			Info:       rec.Info,
			MTime:      rec.MTime,
			AccessTime: rec.AccessTime,
		})
	}
	return result
}

func cacheDisabled(c fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_disabled"})
}

func listCache(store *cache.Cache) fiber.Handler {
	return func(c fiber.Ctx) error {
		if store == nil {
			return cacheDisabled(c)
		}
		order, err := cache.ParseSortOrder(c.Query("sort"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_sort", "message": err.Error()})
		}
		return c.JSON(fiber.Map{
			"entries": encodeEntries(store.List(order)),
			"stats":   store.Stats(),
		})
	}
}

func removeCache(store *cache.Cache) fiber.Handler {
	return func(c fiber.Ctx) error {
		if store == nil {
			return cacheDisabled(c)
		}
		key := strings.TrimSpace(c.Query("canonical"))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "canonical_required"})
		}
		if !store.Remove(key) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry_not_found"})
		}
		return c.JSON(fiber.Map{"removed": key})
	}
}

func purgeCache(store *cache.Cache) fiber.Handler {
	return func(c fiber.Ctx) error {
		if store == nil {
			return cacheDisabled(c)
		}
		return c.JSON(fiber.Map{"evicted": store.Purge()})
	}
}

type schedulerPayload struct {
	Active    int    `json:"active"`
	Idle      int    `json:"idle"`
	Reclaimed uint64 `json:"reclaimed"`
}

func stats(opts Options) fiber.Handler {
	return func(c fiber.Ctx) error {
		payload := fiber.Map{}
		if opts.Cache != nil {
			payload["cache"] = opts.Cache.Stats()
		}
		if opts.Scheduler != nil {
			payload["connections"] = schedulerPayload{
				Active:    opts.Scheduler.Active(),
				Idle:      opts.Scheduler.IdleCount(),
				Reclaimed: opts.Scheduler.Reclaimed(),
			}
		}
		return c.JSON(payload)
	}
}

// documents serves files below root for paths under route. Directory
// requests get their index.html.
func documents(root, route string) fiber.Handler {
	return func(c fiber.Ctx) error {
		rel := path.Clean("/" + strings.TrimPrefix(c.Path(), route))
		if strings.HasSuffix(rel, "/") {
			rel += "index.html"
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		st, err := os.Stat(full)
		if err == nil && st.IsDir() {
			full = filepath.Join(full, "index.html")
			st, err = os.Stat(full)
		}
		if err != nil || !st.Mode().IsRegular() {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.SendFile(full)
	}
}
