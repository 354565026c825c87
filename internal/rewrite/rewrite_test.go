package rewrite

import (
	"net/url"
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestRewriteHTMLScriptSrc(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	urlMap := map[string]string{"https://example.com/assets/app-abc123.js": "/_local/assets/app-abc123.js"}

	doc := []byte(`<html><head></head><body><script src="/assets/app-abc123.js"></script></body></html>`)
	out := RewriteHTML(doc, base, urlMap)

	if !strings.Contains(string(out), `src="/_local/assets/app-abc123.js"`) {
		t.Fatalf("expected src to remain mapped path, got %s", out)
	}
}

func TestRewriteHTMLPreservesUnmappedURLs(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	doc := []byte(`<a href="https://other.example.com/page">link</a>`)
	out := RewriteHTML(doc, base, map[string]string{})
	if string(out) != string(doc) {
		t.Fatalf("expected byte-identical output with empty map, got %s", out)
	}
}

func TestRewriteHTMLSkipsAnchorsAndSchemes(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	urlMap := map[string]string{"https://example.com/#section": "/should-not-apply"}
	doc := []byte(`<a href="#section">jump</a><a href="mailto:[email protected]">mail</a>`)
	out := RewriteHTML(doc, base, urlMap)
	if string(out) != string(doc) {
		t.Fatalf("expected anchors/mailto to pass through unchanged, got %s", out)
	}
}

func TestRewriteHTMLInlineStyleURL(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	urlMap := map[string]string{"https://example.com/bg.png": "/assets/bg.png"}
	doc := []byte(`<style>body { background: url("/bg.png"); }</style>`)
	out := RewriteHTML(doc, base, urlMap)
	if !strings.Contains(string(out), `url("/assets/bg.png")`) {
		t.Fatalf("expected inline style url() rewritten, got %s", out)
	}
}

func TestRewriteHTMLSrcset(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	urlMap := map[string]string{
		"https://example.com/img-1x.png": "/assets/img-1x.png",
		"https://example.com/img-2x.png": "/assets/img-2x.png",
	}
	doc := []byte(`<img srcset="/img-1x.png 1x, /img-2x.png 2x">`)
	out := RewriteHTML(doc, base, urlMap)
	got := string(out)
	if !strings.Contains(got, "/assets/img-1x.png 1x") || !strings.Contains(got, "/assets/img-2x.png 2x") {
		t.Fatalf("expected both srcset candidates rewritten, got %s", got)
	}
}

func TestRewriteCSSURLAndImport(t *testing.T) {
	base := mustParse(t, "https://example.com/styles/main.css")
	urlMap := map[string]string{
		"https://example.com/styles/icons.woff2": "/assets/icons.woff2",
		"https://example.com/styles/base.css":    "/assets/base.css",
	}
	css := []byte(`@import "./base.css";
.icon { font: url('./icons.woff2') format('woff2'); }`)
	out := RewriteCSS(css, base, urlMap)
	got := string(out)
	if !strings.Contains(got, `@import "/assets/base.css"`) {
		t.Fatalf("expected @import rewritten, got %s", got)
	}
	if !strings.Contains(got, `url('/assets/icons.woff2')`) {
		t.Fatalf("expected url() rewritten, got %s", got)
	}
}

func TestRewriteCSSNoOverlapIsByteIdentical(t *testing.T) {
	base := mustParse(t, "https://example.com/styles/main.css")
	css := []byte(`.a { background: url("https://cdn.other.com/x.png"); }`)
	out := RewriteCSS(css, base, map[string]string{})
	if string(out) != string(css) {
		t.Fatalf("expected byte-identical output, got %s", out)
	}
}

func TestApplyReplacementsBackToFront(t *testing.T) {
	src := []byte("abcdefghij")
	repls := []Replacement{
		{Start: 2, End: 4, Text: []byte("XX")},
		{Start: 6, End: 8, Text: []byte("YY")},
	}
	out := ApplyReplacements(src, repls)
	if string(out) != "abXXefYYij" {
		t.Fatalf("got %q", out)
	}
}
