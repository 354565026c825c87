package reconcache

import (
	"testing"

	"github.com/use-agent/reconweb/models"
)

func TestCachePageRoundTrip(t *testing.T) {
	c := New(false, 0)
	if _, ok := c.GetPage("https://example.com"); ok {
		t.Fatal("expected miss before Set")
	}
	c.SetPage("https://example.com", []byte("<html></html>"))
	body, ok := c.GetPage("https://example.com")
	if !ok || string(body) != "<html></html>" {
		t.Fatalf("GetPage = %q, %v", body, ok)
	}
}

func TestCacheNegativeDiscoveryIsAHit(t *testing.T) {
	c := New(false, 0)
	c.SetDiscovery("https://example.com/app.js", models.DiscoveryResult{Found: false})
	result, ok := c.GetDiscovery("https://example.com/app.js")
	if !ok {
		t.Fatal("expected negative verdict to be a cache hit")
	}
	if result.Found {
		t.Error("expected Found=false to be preserved")
	}
}

func TestCacheDisabledAlwaysMisses(t *testing.T) {
	c := New(true, 0)
	c.SetPage("https://example.com", []byte("x"))
	if _, ok := c.GetPage("https://example.com"); ok {
		t.Fatal("disabled cache should never hit")
	}
}

func TestCacheNilIsSafe(t *testing.T) {
	var c *Cache
	c.SetPage("https://example.com", []byte("x"))
	if _, ok := c.GetPage("https://example.com"); ok {
		t.Fatal("nil cache should never hit")
	}
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c := New(false, 1)
	c.SetPage("a", []byte("1"))
	c.SetPage("b", []byte("2"))
	count := 0
	for _, url := range []string{"a", "b"} {
		if _, ok := c.GetPage(url); ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 entry to survive eviction, got %d", count)
	}
}
