package cache

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestCache(t *testing.T, dir string, opts Options) *Cache {
	t.Helper()
	c, err := Open(dir, opts, newTestLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int64
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return c
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.tif")
	if err := os.WriteFile(path, []byte("source"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func addEntry(t *testing.T, c *Cache, src, key string, size int) string {
	t.Helper()
	w, err := c.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write(bytes.Repeat([]byte("x"), size)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Commit(src, key, ImageInfo{Width: 10, Height: 20}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return w.Path()
}

func TestCheckHitAndStaleness(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	src := writeSource(t)
	path := addEntry(t, c, src, "host/p/a/full/max/0/default.jpg", 5)

	got, ok, err := c.Check(src, "host/p/a/full/max/0/default.jpg")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got != path {
		t.Fatalf("hit path mismatch: %s vs %s", got, path)
	}

	if _, ok, _ := c.Check(src, "host/p/a/full/100,/0/default.jpg"); ok {
		t.Fatalf("unknown key should miss")
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, ok, err := c.Check(src, "host/p/a/full/max/0/default.jpg"); err != nil || ok {
		t.Fatalf("modified source should miss, got ok=%v err=%v", ok, err)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Fatalf("unexpected hit/miss counters: %+v", stats)
	}
}

func TestCheckMissingSource(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	if _, _, err := c.Check(filepath.Join(t.TempDir(), "missing"), "k"); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestAddReplacesExistingEntry(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	src := writeSource(t)
	first := addEntry(t, c, src, "k", 10)
	second := addEntry(t, c, src, "k", 4)

	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("replaced artifact should be deleted, stat err=%v", err)
	}
	if _, err := os.Stat(second); err != nil {
		t.Fatalf("new artifact missing: %v", err)
	}
	stats := c.Stats()
	if stats.Files != 1 || stats.Size != 4 {
		t.Fatalf("expected 1 file of 4 bytes, got %+v", stats)
	}
}

func TestPurgeEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{MaxFiles: 4, Hysteresis: 0.5})
	src := writeSource(t)
	paths := map[string]string{}
	for _, key := range []string{"k0", "k1", "k2", "k3"} {
		paths[key] = addEntry(t, c, src, key, 1)
	}
	if _, ok, _ := c.Check(src, "k0"); !ok {
		t.Fatalf("k0 should hit")
	}

	addEntry(t, c, src, "k4", 1)

	for _, key := range []string{"k1", "k2"} {
		if _, ok, _ := c.Check(src, key); ok {
			t.Fatalf("%s should have been evicted", key)
		}
		if _, err := os.Stat(paths[key]); !os.IsNotExist(err) {
			t.Fatalf("%s artifact should be deleted", key)
		}
	}
	for _, key := range []string{"k0", "k3", "k4"} {
		if _, ok, _ := c.Check(src, key); !ok {
			t.Fatalf("%s should survive", key)
		}
	}
	if stats := c.Stats(); stats.Files != 3 || stats.Evictions != 2 {
		t.Fatalf("unexpected stats after purge: %+v", stats)
	}
}

func TestSizeStaysBoundedAfterAdd(t *testing.T) {
	const maxSize, entry = 100, 30
	c := newTestCache(t, t.TempDir(), Options{MaxSize: maxSize, Hysteresis: 0.2})
	src := writeSource(t)
	for i := 0; i < 20; i++ {
		addEntry(t, c, src, "k"+strings.Repeat("i", i+1), entry)
		stats := c.Stats()
		if stats.Size > maxSize+entry {
			t.Fatalf("size %d exceeds bound after add %d", stats.Size, i)
		}
		var sum int64
		for _, rec := range c.List(SortAccessAsc) {
			sum += rec.Size
		}
		if sum != stats.Size || len(c.List(SortAccessAsc)) != stats.Files {
			t.Fatalf("counters out of sync: sum=%d stats=%+v", sum, stats)
		}
	}
}

func TestPurgeUnboundedIsNoop(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	src := writeSource(t)
	for _, key := range []string{"a", "b", "c"} {
		addEntry(t, c, src, key, 100)
	}
	if n := c.Purge(); n != 0 {
		t.Fatalf("unbounded cache purged %d entries", n)
	}
}

func TestListOrders(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	src := writeSource(t)
	addEntry(t, c, src, "small", 1)
	addEntry(t, c, src, "large", 9)
	addEntry(t, c, src, "medium", 5)

	keys := func(order SortOrder) string {
		var out []string
		for _, rec := range c.List(order) {
			out = append(out, rec.Canonical)
		}
		return strings.Join(out, ",")
	}
	if got := keys(SortAccessAsc); got != "small,large,medium" {
		t.Fatalf("atasc: %s", got)
	}
	if got := keys(SortAccessDesc); got != "medium,large,small" {
		t.Fatalf("atdesc: %s", got)
	}
	if got := keys(SortSizeAsc); got != "small,medium,large" {
		t.Fatalf("fsasc: %s", got)
	}
	if got := keys(SortSizeDesc); got != "large,medium,small" {
		t.Fatalf("fsdesc: %s", got)
	}
	if _, err := ParseSortOrder("bogus"); err == nil {
		t.Fatalf("expected error for unknown order")
	}
}

func TestRemove(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	src := writeSource(t)
	path := addEntry(t, c, src, "k", 3)
	if !c.Remove("k") {
		t.Fatalf("remove should report true")
	}
	if c.Remove("k") {
		t.Fatalf("second remove should report false")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("artifact should be deleted")
	}
}

func TestGetSizeHonorsStaleness(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	src := writeSource(t)
	addEntry(t, c, src, "k", 3)

	info, ok, err := c.GetSize(src)
	if err != nil || !ok {
		t.Fatalf("expected size hit: ok=%v err=%v", ok, err)
	}
	if info.Width != 10 || info.Height != 20 {
		t.Fatalf("unexpected info %+v", info)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, ok, _ := c.GetSize(src); ok {
		t.Fatalf("stale size record should miss")
	}
}

func TestWriterAbortRemovesFile(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	w, err := c.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Abort()
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Fatalf("aborted file should be gone")
	}
	if _, err := w.Write([]byte("more")); err != ErrWriterClosed {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	if c.Stats().Files != 0 {
		t.Fatalf("aborted writer must not register an entry")
	}
}

func TestNewCacheFileNameIsUnique(t *testing.T) {
	c := newTestCache(t, t.TempDir(), Options{})
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		name, err := c.NewCacheFileName()
		if err != nil {
			t.Fatalf("new name: %v", err)
		}
		if seen[name] {
			t.Fatalf("duplicate name %s", name)
		}
		seen[name] = true
		if filepath.Dir(name) != c.Dir() || !strings.HasPrefix(filepath.Base(name), cacheFilePrefix) {
			t.Fatalf("unexpected name %s", name)
		}
	}
}
