package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/models"
)

func TestNormalizeURLStripsFragmentAndDefaultPort(t *testing.T) {
	got := normalizeURL("https://example.com:443/path/#section")
	want := "https://example.com/path"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeURLTrailingSlash(t *testing.T) {
	got := normalizeURL("https://example.com/path/")
	if got != "https://example.com/path" {
		t.Errorf("got %q", got)
	}
	got = normalizeURL("https://example.com/")
	if got != "https://example.com/" {
		t.Errorf("root path should stay %q, got %q", "https://example.com/", got)
	}
}

func TestNormalizeURLRejectsNonHTTP(t *testing.T) {
	if got := normalizeURL("javascript:alert(1)"); got != "" {
		t.Errorf("expected rejection, got %q", got)
	}
}

func TestQueueSameSiteAdmitsSubdomains(t *testing.T) {
	cfg := config.CrawlConfig{SameSiteSubdomains: []string{"cdn", "static"}}
	q := New(cfg, "https://example.com/")
	if !q.sameSite("https://cdn.example.com/asset.js") {
		t.Error("expected cdn subdomain to be admitted")
	}
	if q.sameSite("https://evil.com/") {
		t.Error("expected cross-origin host to be rejected")
	}
}

func TestQueueRunRespectsMaxDepthAndDedup(t *testing.T) {
	cfg := config.CrawlConfig{Concurrency: 2, MaxDepth: 1, MaxPages: 100, RatePerSecond: 1000, RateBurst: 1000}
	q := New(cfg, "https://example.com/")

	var mu sync.Mutex
	var processed []string
	var calls int32

	q.Run(context.Background(), func(ctx context.Context, item models.CrawlItem) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		processed = append(processed, item.URL)
		mu.Unlock()
		return []string{"https://example.com/child", "https://example.com/child"}, nil
	})

	if calls != 2 {
		t.Fatalf("processed %v, want the root and the deduplicated child once each (child is at MaxDepth)", processed)
	}
}
