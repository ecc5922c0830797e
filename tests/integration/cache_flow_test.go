package integration

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imghub/imghub/internal/cache"
)

func TestCacheFlowMissHitAndStaleSource(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.writeImage("maps/plan.png", 64, 32)
	const target = "/maps/plan.png/full/32,/0/default.png"

	resp, body := env.get(target)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: status %d (%s)", resp.StatusCode, body)
	}
	if w, h := decodeSize(t, body); w != 32 || h != 16 {
		t.Fatalf("first image is %dx%d", w, h)
	}
	resp, cached := env.get(target)
	if resp.StatusCode != http.StatusOK || string(cached) != string(body) {
		t.Fatalf("second request should replay the cached artifact")
	}
	if s := env.Cache.Stats(); s.Hits != 1 || s.Misses != 1 || s.Files != 1 {
		t.Fatalf("after hit: %+v", s)
	}

	// A source newer than its artifact must be rendered again and the old
	// entry replaced.
	env.touch("maps/plan.png", time.Now().Add(time.Hour))
	if resp, _ := env.get(target); resp.StatusCode != http.StatusOK {
		t.Fatalf("stale request: status %d", resp.StatusCode)
	}
	if s := env.Cache.Stats(); s.Misses != 2 || s.Files != 1 {
		t.Fatalf("after stale source: %+v", s)
	}
	env.AssertLogContains(`"cache_hit":true`)
	env.AssertLogContains(`"cache_hit":false`)
}

func TestCacheFlowEquivalentRequestsShareAnEntry(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.writeImage("maps/plan.png", 64, 32)

	for _, target := range []string{
		"/maps/plan.png/full/16,/0/default.png",
		"/maps/plan.png/0,0,64,32/pct:25/0/default.png",
		"/maps/plan.png/full/16,8/360/default.png",
	} {
		if resp, body := env.get(target); resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d (%s)", target, resp.StatusCode, body)
		}
	}
	if s := env.Cache.Stats(); s.Files != 1 || s.Hits != 2 {
		t.Fatalf("equivalent requests should share one artifact: %+v", s)
	}
}

func TestCacheFlowPurgeKeepsRecentEntries(t *testing.T) {
	env := newEnv(t, envOptions{CacheLimit: cache.Options{MaxFiles: 3, Hysteresis: 0.34}})
	env.writeImage("maps/plan.png", 64, 32)

	widths := []string{"10", "12", "14", "16", "18", "20"}
	for _, w := range widths {
		if resp, body := env.get("/maps/plan.png/full/" + w + ",/0/default.png"); resp.StatusCode != http.StatusOK {
			t.Fatalf("width %s: status %d (%s)", w, resp.StatusCode, body)
		}
		if files := env.Cache.Stats().Files; files > 3 {
			t.Fatalf("cache holds %d files, limit is 3", files)
		}
	}
	s := env.Cache.Stats()
	if s.Evictions == 0 {
		t.Fatalf("expected evictions: %+v", s)
	}
	hitsBefore := s.Hits
	if resp, _ := env.get("/maps/plan.png/full/20,/0/default.png"); resp.StatusCode != http.StatusOK {
		t.Fatalf("latest entry: status %d", resp.StatusCode)
	}
	if env.Cache.Stats().Hits != hitsBefore+1 {
		t.Fatalf("most recent entry should survive the purge")
	}

	entries, err := os.ReadDir(env.Cache.Dir())
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	artifacts := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "cache_") {
			artifacts++
		}
	}
	if artifacts != env.Cache.Stats().Files {
		t.Fatalf("%d artifact files on disk, index has %d", artifacts, env.Cache.Stats().Files)
	}
}

func TestCacheFlowIndexSurvivesRestart(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.writeImage("maps/plan.png", 64, 32)
	const target = "/maps/plan.png/full/8,/0/default.png"
	if resp, _ := env.get(target); resp.StatusCode != http.StatusOK {
		t.Fatalf("render: status %d", resp.StatusCode)
	}
	if err := env.Cache.Close(); err != nil {
		t.Fatalf("close cache: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reopened, err := cache.Open(env.Cache.Dir(), cache.Options{}, logger)
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	records := reopened.List(cache.SortAccessAsc)
	if len(records) != 1 || !strings.HasSuffix(records[0].Canonical, "/maps/plan.png/full/8,4/0/default.png") {
		t.Fatalf("unexpected records after restart: %+v", records)
	}
	source := filepath.Join(env.Root, "maps", "plan.png")
	if _, hit, err := reopened.Check(source, records[0].Canonical); err != nil || !hit {
		t.Fatalf("restored entry should be fresh: hit=%v err=%v", hit, err)
	}
}

func TestCacheFlowAdminRoutes(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.writeImage("maps/plan.png", 64, 32)
	if resp, _ := env.get("/maps/plan.png/full/8,/0/default.png"); resp.StatusCode != http.StatusOK {
		t.Fatalf("render: status %d", resp.StatusCode)
	}
	key := env.Cache.List(cache.SortAccessAsc)[0].Canonical

	resp, body := env.get("/-/cache")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), key) {
		t.Fatalf("listing: status %d body %s", resp.StatusCode, body)
	}
	if resp, _ := env.do(http.MethodDelete, "/-/cache?canonical="+key, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	if env.Cache.Stats().Files != 0 {
		t.Fatalf("entry should be removed")
	}
	resp, body = env.get("/-/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "imghub_") {
		t.Fatalf("metrics: status %d", resp.StatusCode)
	}
}
