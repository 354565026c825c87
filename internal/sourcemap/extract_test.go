package sourcemap

import "testing"

func TestNormalizePathStripsWebpackPrefix(t *testing.T) {
	got, ok := normalizePath("webpack://my-project/src/index.js", "")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "src/index.js" {
		t.Errorf("got %q, want %q", got, "src/index.js")
	}
}

func TestNormalizePathPrependsSourceRoot(t *testing.T) {
	got, ok := normalizePath("index.js", "/src")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "/src/index.js" {
		t.Errorf("got %q, want %q", got, "/src/index.js")
	}
}

func TestNormalizePathDoesNotPrependSourceRootForAbsolutePaths(t *testing.T) {
	got, ok := normalizePath("/already/absolute.js", "/src")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "/already/absolute.js" {
		t.Errorf("got %q, want %q", got, "/already/absolute.js")
	}
}

func TestNormalizePathRejectsDataURI(t *testing.T) {
	if _, ok := normalizePath("data:text/plain;base64,AAAA", ""); ok {
		t.Fatal("expected rejection of data: URIs")
	}
}

func TestNormalizePathRejectsQueryStrings(t *testing.T) {
	if _, ok := normalizePath("index.js?v=2", ""); ok {
		t.Fatal("expected rejection of query-string sentinels")
	}
}

func TestNormalizePathRejectsWebpackInternal(t *testing.T) {
	if _, ok := normalizePath("(webpack)/buildin/module.js", ""); ok {
		t.Fatal("expected rejection of (webpack)/ internal paths")
	}
}

func TestNormalizePathKeepsUnresolvableDotDotLiteral(t *testing.T) {
	got, ok := normalizePath("../outside.js", "")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "../outside.js" {
		t.Errorf("got %q, want literal %q", got, "../outside.js")
	}
}

func TestNormalizePathResolvesInternalDotDot(t *testing.T) {
	got, ok := normalizePath("src/nested/../index.js", "")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "src/index.js" {
		t.Errorf("got %q, want %q", got, "src/index.js")
	}
}

func TestNormalizePathCollapsesDotSlash(t *testing.T) {
	got, ok := normalizePath("./src/./index.js", "")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "src/index.js" {
		t.Errorf("got %q, want %q", got, "src/index.js")
	}
}

func TestNormalizePathWindowsSeparators(t *testing.T) {
	got, ok := normalizePath(`src\nested\index.js`, "")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "src/nested/index.js" {
		t.Errorf("got %q, want %q", got, "src/nested/index.js")
	}
}
