package sourcemap

import "testing"

func TestLastDirectiveURLLastWins(t *testing.T) {
	src := "//# sourceMappingURL=first.js.map\n//# sourceMappingURL=second.js.map\n"
	got := lastDirectiveURL(src)
	if got != "second.js.map" {
		t.Errorf("got %q, want %q", got, "second.js.map")
	}
}

func TestLastDirectiveURLResetOnCode(t *testing.T) {
	src := "//# sourceMappingURL=first.js.map\nvar x = 1;\n"
	got := lastDirectiveURL(src)
	if got != "" {
		t.Errorf("got %q, want empty (reset by code)", got)
	}
}

func TestLastDirectiveURLBlockCommentAcrossLines(t *testing.T) {
	src := "var x = 1;\n/*# sourceMappingURL=style.css.map\n*/\n"
	got := lastDirectiveURL(src)
	if got != "style.css.map" {
		t.Errorf("got %q, want %q", got, "style.css.map")
	}
}

func TestLastDirectiveURLNoDirective(t *testing.T) {
	src := "var x = 1;\n// just a comment\n"
	got := lastDirectiveURL(src)
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestProbeContentTypeOK(t *testing.T) {
	cases := map[string]bool{
		"":                          true,
		"application/json":         true,
		"application/octet-stream": true,
		"text/plain":                true,
		"text/plain; charset=utf-8": true,
		"text/html":                 false,
	}
	for ct, want := range cases {
		if got := probeContentTypeOK(ct); got != want {
			t.Errorf("probeContentTypeOK(%q) = %v, want %v", ct, got, want)
		}
	}
}
