package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/use-agent/reconweb/internal/rodpage"
)

func newTestCapturer(t *testing.T) (*AssetCapturer, string) {
	t.Helper()
	dir := t.TempDir()
	return NewAssetCapturer(dir, "example.com", []string{"cdn", "static"}, 0), dir
}

func TestLocalPathSameOrigin(t *testing.T) {
	a, _ := newTestCapturer(t)
	cases := map[string]string{
		"https://example.com/":              "/index.html",
		"https://example.com/about":         "/about/index.html",
		"https://example.com/css/main.css":  "/css/main.css",
		"https://cdn.example.com/lib.js":    "/_cdn/lib.js",
		"https://static.example.com/a.png":  "/_static/a.png",
	}
	for rawURL, want := range cases {
		got, ok := a.localPath(rawURL)
		if !ok || got != want {
			t.Errorf("localPath(%q) = %q, %v; want %q", rawURL, got, ok, want)
		}
	}
}

func TestLocalPathCrossOrigin(t *testing.T) {
	a, _ := newTestCapturer(t)
	got, ok := a.localPath("https://fonts.example.net/inter.woff2")
	if !ok {
		t.Fatal("expected cross-origin asset to map")
	}
	if !strings.HasPrefix(got, "/_external/") || !strings.HasSuffix(got, "_inter.woff2") {
		t.Errorf("got %q, want /_external/<hash>_inter.woff2", got)
	}
}

func TestCaptureWritesAssetAndMarksEntrypoint(t *testing.T) {
	a, dir := newTestCapturer(t)
	ex := rodpage.Exchange{
		URL:             "https://example.com/",
		ResourceType:    "Document",
		Status:          200,
		ResponseHeaders: map[string]string{"content-type": "text/html"},
		ResponseBody:    []byte("<html></html>"),
	}
	asset, ok := a.Capture(ex, true)
	if !ok {
		t.Fatal("expected capture to succeed")
	}
	if asset.LocalPath != "/index.html" || !asset.IsEntrypoint {
		t.Errorf("asset = %+v", asset)
	}
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("read written asset: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("written content = %q", data)
	}
}

func TestCaptureRejectsNon2xxAndDataURIs(t *testing.T) {
	a, _ := newTestCapturer(t)
	if _, ok := a.Capture(rodpage.Exchange{URL: "https://example.com/missing", ResourceType: "Image", Status: 404}, false); ok {
		t.Error("expected 404 response to be rejected")
	}
	if _, ok := a.Capture(rodpage.Exchange{URL: "data:image/png;base64,AAAA", ResourceType: "Image", Status: 200}, false); ok {
		t.Error("expected data URI to be rejected")
	}
	if _, ok := a.Capture(rodpage.Exchange{URL: "https://example.com/x.bin", ResourceType: "Other", Status: 200}, false); ok {
		t.Error("expected unsupported resource type to be rejected")
	}
}

func TestCaptureRejectsOversizedBody(t *testing.T) {
	dir := t.TempDir()
	a := NewAssetCapturer(dir, "example.com", nil, 10)
	ex := rodpage.Exchange{
		URL:          "https://example.com/big.js",
		ResourceType: "Script",
		Status:       200,
		ResponseBody: []byte(strings.Repeat("a", 11)),
	}
	if _, ok := a.Capture(ex, false); ok {
		t.Error("expected oversized body to be rejected")
	}
}
