package rewrite

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// urlAttrs are the URL-bearing attributes rewritten verbatim (single
// URL per attribute value).
var urlAttrs = map[string]bool{
	"src": true, "href": true, "poster": true, "data": true,
	"action": true, "formaction": true,
}

var reMetaURLProperty = regexp.MustCompile(`(?i)(?:property|name)\s*=\s*["'](og:image[^"']*|twitter:image[^"']*)["']`)

var reAttr = regexp.MustCompile(`([a-zA-Z_:][-a-zA-Z0-9_:.]*)\s*=\s*("[^"]*"|'[^']*')`)

// RewriteHTML rewrites every URL-bearing attribute, srcset candidate,
// inline style attribute, inline <style> body, and whitelisted meta tag
// in doc whose resolved URL is present in urlMap. Tokenizing is used
// only to find tag/text boundaries; the document is never reserialised
// — every change is a byte-range splice over the original bytes so
// untouched whitespace, case, and quoting survive exactly.
func RewriteHTML(doc []byte, base *url.URL, urlMap map[string]string) []byte {
	z := html.NewTokenizer(bytes.NewReader(doc))
	offset := 0
	inStyle := false
	var repls []Replacement

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := z.Raw()
		tokenStart := offset
		offset += len(raw)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tagName := string(name)
			if tagName == "style" && tt == html.StartTagToken {
				inStyle = true
			}
			if hasAttr {
				repls = append(repls, tagAttrReplacements(raw, tokenStart, tagName, base, urlMap)...)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "style" {
				inStyle = false
			}
		case html.TextToken:
			if inStyle {
				for _, r := range cssReplacements(raw, base, urlMap) {
					repls = append(repls, Replacement{Start: tokenStart + r.Start, End: tokenStart + r.End, Text: r.Text})
				}
			}
		}
	}

	return ApplyReplacements(doc, repls)
}

func tagAttrReplacements(raw []byte, tokenStart int, tagName string, base *url.URL, urlMap map[string]string) []Replacement {
	var repls []Replacement
	isMetaImageTag := tagName == "meta" && reMetaURLProperty.Match(raw)

	for _, m := range reAttr.FindAllSubmatchIndex(raw, -1) {
		key := strings.ToLower(string(raw[m[2]:m[3]]))
		quoted := raw[m[4]:m[5]]
		if len(quoted) < 2 {
			continue
		}
		valStart := m[4] + 1
		valEnd := m[5] - 1
		value := string(raw[valStart:valEnd])

		switch {
		case key == "srcset" || key == "imagesrcset":
			if newVal, changed := rewriteSrcset(value, base, urlMap); changed {
				repls = append(repls, Replacement{Start: tokenStart + valStart, End: tokenStart + valEnd, Text: []byte(newVal)})
			}
		case key == "style":
			rewritten := RewriteCSS([]byte(value), base, urlMap)
			if !bytes.Equal(rewritten, []byte(value)) {
				repls = append(repls, Replacement{Start: tokenStart + valStart, End: tokenStart + valEnd, Text: rewritten})
			}
		case key == "content" && isMetaImageTag:
			if local, ok := resolveAndLookup(base, value, urlMap); ok {
				repls = append(repls, Replacement{Start: tokenStart + valStart, End: tokenStart + valEnd, Text: []byte(local)})
			}
		case urlAttrs[key] || (strings.HasPrefix(key, "data-") && (strings.HasSuffix(key, "src") || strings.HasSuffix(key, "href"))):
			if local, ok := resolveAndLookup(base, value, urlMap); ok {
				repls = append(repls, Replacement{Start: tokenStart + valStart, End: tokenStart + valEnd, Text: []byte(local)})
			}
		}
	}
	return repls
}

// rewriteSrcset rewrites every "<url> <descriptor>?" candidate in a
// srcset/imagesrcset value, preserving comma/space separation and
// descriptors verbatim.
func rewriteSrcset(value string, base *url.URL, urlMap map[string]string) (string, bool) {
	candidates := strings.Split(value, ",")
	changed := false
	for i, c := range candidates {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			continue
		}
		leading := c[:strings.Index(c, trimmed)]
		trailing := c[strings.Index(c, trimmed)+len(trimmed):]

		fields := strings.Fields(trimmed)
		if len(fields) == 0 {
			continue
		}
		local, ok := resolveAndLookup(base, fields[0], urlMap)
		if !ok {
			continue
		}
		fields[0] = local
		candidates[i] = leading + strings.Join(fields, " ") + trailing
		changed = true
	}
	if !changed {
		return value, false
	}
	return strings.Join(candidates, ","), true
}
