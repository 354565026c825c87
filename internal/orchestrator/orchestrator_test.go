package orchestrator

import (
	"sync/atomic"
	"testing"

	"github.com/use-agent/reconweb/models"
)

func TestBundleNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/assets/app-abc123.js": "app-abc123.js",
		"https://example.com/":                     "bundle",
		"not a url at all ::":                      "bundle",
	}
	for rawURL, want := range cases {
		if got := bundleNameFromURL(rawURL); got != want {
			t.Errorf("bundleNameFromURL(%q) = %q, want %q", rawURL, got, want)
		}
	}
}

func TestPackageNameFromOriginalPath(t *testing.T) {
	name, ok := packageNameFromOriginalPath("webpack:///./node_modules/react/index.js")
	if !ok || name != "react" {
		t.Errorf("got %q, %v", name, ok)
	}

	// Innermost package wins for nested node_modules.
	name, ok = packageNameFromOriginalPath("node_modules/foo/node_modules/@scope/bar/lib/x.js")
	if !ok || name != "@scope/bar" {
		t.Errorf("got %q, %v, want @scope/bar", name, ok)
	}

	if _, ok := packageNameFromOriginalPath("src/app.ts"); ok {
		t.Error("expected no package for first-party source")
	}
}

func TestGroupByPackageSortsAndGroups(t *testing.T) {
	files := []models.ExtractedSource{
		{OriginalPath: "node_modules/zlib-shim/index.js"},
		{OriginalPath: "node_modules/axios/lib/axios.js"},
		{OriginalPath: "node_modules/axios/lib/core.js"},
		{OriginalPath: "src/main.ts"},
	}
	groups := groupByPackage(files)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Name != "axios" || len(groups[0].Files) != 2 {
		t.Errorf("first group = %q with %d files", groups[0].Name, len(groups[0].Files))
	}
	if groups[1].Name != "zlib-shim" {
		t.Errorf("second group = %q", groups[1].Name)
	}
}

func TestInferKind(t *testing.T) {
	if inferKind("https://example.com/styles/main.css") != models.BundleStylesheet {
		t.Error("expected stylesheet")
	}
	if inferKind("https://example.com/app.js") != models.BundleScript {
		t.Error("expected script")
	}
}

func TestRunBoundedPreservesOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	var inFlight, peak int32
	results := runBounded(items, 3, func(n int) int {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		defer atomic.AddInt32(&inFlight, -1)
		return n * 10
	})
	for i, n := range items {
		if results[i] != n*10 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], n*10)
		}
	}
	if atomic.LoadInt32(&peak) > 3 {
		t.Errorf("peak concurrency %d exceeded bound 3", peak)
	}
}
