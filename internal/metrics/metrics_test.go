package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/imghub/imghub/internal/cache"
)

type fakeScheduler struct{}

func (fakeScheduler) Active() int       { return 3 }
func (fakeScheduler) IdleCount() int    { return 1 }
func (fakeScheduler) Reclaimed() uint64 { return 7 }

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveRequest("image", 200, 15*time.Millisecond)
	m.CacheResult(ResultHit)
	m.RegisterCache(func() cache.Stats { return cache.Stats{Size: 2048, Files: 2, Evictions: 5} })
	m.RegisterScheduler(fakeScheduler{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/-/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`imghub_requests_total{kind="image",status="200"} 1`,
		`imghub_cache_lookups_total{result="hit"} 1`,
		`imghub_cache_bytes 2048`,
		`imghub_cache_evictions_total 5`,
		`imghub_connections_active 3`,
		`imghub_connections_reclaimed_total 7`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("info", 200, time.Millisecond)
	m.CacheResult(ResultMiss)
}
