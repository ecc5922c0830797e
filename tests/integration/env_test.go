package integration

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/imghub/imghub/internal/cache"
	"github.com/imghub/imghub/internal/codec"
	"github.com/imghub/imghub/internal/metrics"
	"github.com/imghub/imghub/internal/pipeline"
	"github.com/imghub/imghub/internal/preflight"
	"github.com/imghub/imghub/internal/server"
	"github.com/imghub/imghub/internal/server/routes"
)

// envOptions tunes the stack built by newEnv.
type envOptions struct {
	Script     string
	CacheLimit cache.Options
	NoCache    bool
}

// testEnv is a complete server stack driven through app.Test.
type testEnv struct {
	t       *testing.T
	Root    string
	Cache   *cache.Cache
	Metrics *metrics.Metrics
	App     *fiber.App
	logs    *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	env := &testEnv{t: t, Root: t.TempDir(), logs: &lockedBuffer{}}

	logger := logrus.New()
	logger.SetOutput(env.logs)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)

	var invoker preflight.Invoker = preflight.Static{}
	if opts.Script != "" {
		scriptPath := filepath.Join(t.TempDir(), "init.lua")
		script := strings.ReplaceAll(opts.Script, "{{root}}", filepath.ToSlash(env.Root))
		if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
			t.Fatalf("write script: %v", err)
		}
		lua, err := preflight.NewLuaInvoker(scriptPath, 2, logger)
		if err != nil {
			t.Fatalf("load script: %v", err)
		}
		t.Cleanup(lua.Close)
		invoker = lua
	}

	if !opts.NoCache {
		store, err := cache.Open(t.TempDir(), opts.CacheLimit, logger)
		if err != nil {
			t.Fatalf("open cache: %v", err)
		}
		env.Cache = store
	}
	env.Metrics = metrics.New()
	if env.Cache != nil {
		env.Metrics.RegisterCache(env.Cache.Stats)
	}

	handler, err := pipeline.NewHandler(pipeline.Options{
		Logger:    logger,
		Resolver:  &pipeline.Resolver{Root: env.Root, PrefixAsPath: true},
		Preflight: invoker,
		Codecs:    codec.NewDefaultRegistry(codec.Options{JPEGQuality: 80}),
		Cache:     env.Cache,
		Metrics:   env.Metrics,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	table := server.NewRouteTable(nil)
	table.MustAdd(fiber.MethodGet, "/", handler.Serve)
	if err := routes.Register(table, routes.Options{Cache: env.Cache, Metrics: env.Metrics}); err != nil {
		t.Fatalf("register routes: %v", err)
	}
	env.App, err = server.NewApp(server.AppOptions{Logger: logger, Routes: table})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return env
}

// writeImage stores a w x h gradient PNG at rel below the image root with an
// mtime in the past.
func (e *testEnv) writeImage(rel string, w, h int) string {
	e.t.Helper()
	full := filepath.Join(e.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		e.t.Fatalf("mkdir: %v", err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		e.t.Fatalf("encode: %v", err)
	}
	e.writeFile(rel, buf.Bytes())
	return full
}

func (e *testEnv) writeFile(rel string, data []byte) string {
	e.t.Helper()
	full := filepath.Join(e.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		e.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		e.t.Fatalf("write %s: %v", rel, err)
	}
	e.touch(rel, time.Now().Add(-time.Hour))
	return full
}

func (e *testEnv) touch(rel string, when time.Time) {
	e.t.Helper()
	full := filepath.Join(e.Root, filepath.FromSlash(rel))
	if err := os.Chtimes(full, when, when); err != nil {
		e.t.Fatalf("chtimes: %v", err)
	}
}

func (e *testEnv) do(method, target string, header http.Header) (*http.Response, []byte) {
	e.t.Helper()
	req := httptest.NewRequest(method, "http://iiif.test"+target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := e.App.Test(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func (e *testEnv) get(target string) (*http.Response, []byte) {
	e.t.Helper()
	return e.do(fiber.MethodGet, target, nil)
}

func (e *testEnv) AssertLogContains(substr string) {
	e.t.Helper()
	if !strings.Contains(e.logs.String(), substr) {
		e.t.Fatalf("log output missing %s:\n%s", substr, e.logs.String())
	}
}

func decodeSize(t *testing.T, body []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	return cfg.Width, cfg.Height
}
