// Package rewrite rewrites URL-bearing HTML and CSS so captured pages
// reference locally mirrored assets. Rewriting is position-ranged
// substitution over the original bytes rather than reparse-and-
// reserialise, so whitespace, case, comment placement, and quoting
// survive unchanged.
package rewrite

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Replacement is one byte-range substitution: out[Start:End] becomes Text.
type Replacement struct {
	Start int
	End   int
	Text  []byte
}

// ApplyReplacements splices repls into src back-to-front so earlier
// offsets stay valid while later ones are spliced in.
func ApplyReplacements(src []byte, repls []Replacement) []byte {
	if len(repls) == 0 {
		return src
	}
	sorted := make([]Replacement, len(repls))
	copy(sorted, repls)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	out := src
	for _, r := range sorted {
		if r.Start < 0 || r.End > len(out) || r.Start > r.End {
			continue
		}
		next := make([]byte, 0, len(out)-(r.End-r.Start)+len(r.Text))
		next = append(next, out[:r.Start]...)
		next = append(next, r.Text...)
		next = append(next, out[r.End:]...)
		out = next
	}
	return out
}

var (
	reCSSURL    = regexp.MustCompile(`url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)
	reCSSImport = regexp.MustCompile(`@import\s+(['"])([^'"]*)(['"])`)
)

// RewriteCSS rewrites every url(...) and @import reference in css whose
// resolved absolute URL is present in urlMap, resolving relative
// references against base (the CSS file's own URL).
func RewriteCSS(css []byte, base *url.URL, urlMap map[string]string) []byte {
	return ApplyReplacements(css, cssReplacements(css, base, urlMap))
}

func cssReplacements(css []byte, base *url.URL, urlMap map[string]string) []Replacement {
	var repls []Replacement

	for _, m := range reCSSURL.FindAllSubmatchIndex(css, -1) {
		quoteOpen := string(css[m[2]:m[3]])
		raw := string(css[m[4]:m[5]])
		local, ok := resolveAndLookup(base, raw, urlMap)
		if !ok {
			continue
		}
		text := "url(" + quoteOpen + local + quoteOpen + ")"
		repls = append(repls, Replacement{Start: m[0], End: m[1], Text: []byte(text)})
	}

	for _, m := range reCSSImport.FindAllSubmatchIndex(css, -1) {
		quote := string(css[m[2]:m[3]])
		raw := string(css[m[4]:m[5]])
		local, ok := resolveAndLookup(base, raw, urlMap)
		if !ok {
			continue
		}
		text := "@import " + quote + local + quote
		repls = append(repls, Replacement{Start: m[0], End: m[1], Text: []byte(text)})
	}

	return repls
}

var skipSchemes = []string{"#", "javascript:", "mailto:", "tel:", "data:", "blob:"}

// resolveAndLookup resolves raw against base (handling protocol-relative
// URLs and same-origin absolute paths the same way) and returns the
// local path it maps to, if any. Anchors and non-http(s) schemes never
// resolve.
func resolveAndLookup(base *url.URL, raw string, urlMap map[string]string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	lower := strings.ToLower(raw)
	for _, s := range skipSchemes {
		if strings.HasPrefix(lower, s) {
			return "", false
		}
	}

	abs := raw
	switch {
	case strings.HasPrefix(raw, "//"):
		scheme := "https"
		if base != nil && base.Scheme != "" {
			scheme = base.Scheme
		}
		abs = scheme + ":" + raw
	case base != nil:
		if u, err := base.Parse(raw); err == nil {
			abs = u.String()
		}
	}

	if local, ok := urlMap[abs]; ok {
		return local, true
	}
	if local, ok := urlMap[raw]; ok {
		return local, true
	}
	return "", false
}
