package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func reply(body string) fiber.Handler {
	return func(c fiber.Ctx) error {
		return c.SendString(body)
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	table := NewRouteTable(nil)
	table.MustAdd("GET", "/", reply("image"))
	table.MustAdd("GET", "/-/cache", reply("cache"))
	table.MustAdd("POST", "/-/cache/purge", reply("purge"))
	table.MustAdd("GET", "/-/panic", func(fiber.Ctx) error { panic("boom") })

	app, err := NewApp(AppOptions{Logger: newTestLogger(), Routes: table})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func TestRouterDispatchesLongestPrefix(t *testing.T) {
	app := newTestApp(t)
	cases := []struct {
		method, path, body string
	}{
		{"GET", "/images/pic.png/info.json", "image"},
		{"GET", "/-/cache", "cache"},
		{"GET", "/-/cache/purge", "cache"},
		{"POST", "/-/cache/purge", "purge"},
		{"GET", "/-/cachex", "image"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(tc.method, "http://example.com"+tc.path, nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != tc.body {
			t.Fatalf("%s %s: body %q, want %q", tc.method, tc.path, body, tc.body)
		}
		if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
			t.Fatalf("expected X-Request-ID header to be set")
		}
	}
}

func TestRouterReturns404WithoutRoute(t *testing.T) {
	app := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("DELETE", "http://example.com/images/pic.png", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error, got %s", string(body))
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	app := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "http://example.com/-/panic", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"internal_server_error"`)) {
		t.Fatalf("expected JSON error body, got %s", string(body))
	}
}

func TestRouteTableRejectsDuplicates(t *testing.T) {
	table := NewRouteTable(nil)
	if err := table.Add("get", "/-/stats", reply("a")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := table.Add("GET", "/-/stats", reply("b")); err == nil {
		t.Fatalf("expected duplicate route error")
	}
	if err := table.Add("GET", "stats", reply("b")); err == nil {
		t.Fatalf("expected prefix validation error")
	}
	if r, ok := table.Lookup("HEAD", "/-/stats"); !ok || r.Method != "GET" {
		t.Fatalf("HEAD should fall back to GET, got %+v %v", r, ok)
	}
	if got := table.List(); len(got) != 1 || got[0].Prefix != "/-/stats" {
		t.Fatalf("unexpected routes %+v", got)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{Routes: NewRouteTable(nil)}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: newTestLogger()}); err == nil {
		t.Fatalf("expected error without route table")
	}
}
