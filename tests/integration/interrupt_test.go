package integration

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"os"
	"strings"
	"testing"
)

// A source whose header decodes but whose pixel data is cut short fails
// while rendering; the partial artifact must not survive.
func TestTransformFailureLeavesNoArtifact(t *testing.T) {
	env := newEnv(t, envOptions{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Signature plus the IHDR chunk is enough for the dimension probe.
	env.writeFile("maps/cut.png", buf.Bytes()[:33])

	resp, body := env.get("/maps/cut.png/full/32,/0/default.png")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("truncated source: status %d (%s)", resp.StatusCode, body)
	}
	if !bytes.Contains(body, []byte(`"transform_failed"`)) {
		t.Fatalf("unexpected error body %s", body)
	}

	if s := env.Cache.Stats(); s.Files != 0 {
		t.Fatalf("failed render must not be cached: %+v", s)
	}
	entries, err := os.ReadDir(env.Cache.Dir())
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "cache_") {
			t.Fatalf("partial artifact %s left behind", e.Name())
		}
	}
	env.AssertLogContains(`"serve_failed"`)
}

func TestBlobRangeAndRedirect(t *testing.T) {
	env := newEnv(t, envOptions{NoCache: true})
	env.writeImage("maps/plan.png", 64, 32)
	env.writeFile("docs/notes.txt", []byte("abcdefghij"))

	resp, body := env.do(http.MethodGet, "/docs/notes.txt", http.Header{"Range": {"bytes=3-6"}})
	if resp.StatusCode != http.StatusPartialContent || string(body) != "defg" {
		t.Fatalf("range: status %d body %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 3-6/10" {
		t.Fatalf("Content-Range = %q", got)
	}

	resp, _ = env.get("/maps/plan.png")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("image without parameters: status %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "http://iiif.test/maps/plan.png/info.json" {
		t.Fatalf("Location = %q", loc)
	}
}
