// Package sourcemap implements ECMA-426 source-map discovery,
// parsing, VLQ mapping decode, and source extraction. Discovery tries
// the HTTP header, then the in-file directive, then a `.map` URL
// probe; parsing strictly validates regular and index maps before any
// source content is extracted.
package sourcemap

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/internal/httpclient"
	"github.com/use-agent/reconweb/internal/reconcache"
	"github.com/use-agent/reconweb/models"
)

// Discoverer finds a bundle's source map using the header → directive
// → probe strategy chain, first hit wins.
type Discoverer struct {
	http  *httpclient.Client
	cache *reconcache.Cache
	cfg   config.DiscoveryConfig
}

func NewDiscoverer(client *httpclient.Client, cache *reconcache.Cache, cfg config.DiscoveryConfig) *Discoverer {
	return &Discoverer{http: client, cache: cache, cfg: cfg}
}

// reDirective matches a sourceMappingURL directive's value, used both
// inside `//` and `/* */` comments.
var reDirective = regexp.MustCompile(`//[@#]\s*sourceMappingURL=(\S+)|/\*[@#]\s*sourceMappingURL=(\S+?)\s*\*/`)

// Discover returns the discovered map location for a bundle, given its
// already-fetched body and response headers. kind only selects the
// reported location type (js-comment or css-comment); the directive
// scan accepts both "//" and "/* */" comments for either kind.
func (d *Discoverer) Discover(ctx context.Context, bundleURL string, header http.Header, body []byte, kind models.BundleKind) (models.DiscoveryResult, error) {
	if cached, ok := d.cache.GetDiscovery(bundleURL); ok {
		return cached, nil
	}

	result, err := d.discover(ctx, bundleURL, header, body, kind)
	if err != nil {
		return models.DiscoveryResult{}, err
	}
	d.cache.SetDiscovery(bundleURL, result)
	return result, nil
}

func (d *Discoverer) discover(ctx context.Context, bundleURL string, header http.Header, body []byte, kind models.BundleKind) (models.DiscoveryResult, error) {
	// 1. HTTP header.
	if h := header.Get("SourceMap"); h != "" {
		return models.DiscoveryResult{Found: true, MapURL: h, LocationType: models.LocationHTTPHeader}, nil
	}
	if h := header.Get("X-SourceMap"); h != "" {
		return models.DiscoveryResult{Found: true, MapURL: h, LocationType: models.LocationHTTPHeader}, nil
	}

	// 2. In-file directive, last-URL-wins-with-reset-on-code.
	if url := lastDirectiveURL(string(body)); url != "" {
		loc := models.LocationJSComment
		if kind == models.BundleStylesheet {
			loc = models.LocationCSSComment
		}
		if strings.HasPrefix(url, "data:") {
			loc = models.LocationInlineDataURI
		}
		return models.DiscoveryResult{Found: true, MapURL: url, LocationType: loc}, nil
	}

	// 3. Probe {bundleUrl}.map via HEAD.
	probeURL := bundleURL + ".map"
	resp, err := d.http.Head(ctx, probeURL)
	if err == nil && resp.StatusCode < 400 {
		ct := resp.Header.Get("Content-Type")
		if probeContentTypeOK(ct) {
			return models.DiscoveryResult{Found: true, MapURL: probeURL, LocationType: models.LocationURLProbe}, nil
		}
	}

	return models.DiscoveryResult{Found: false}, nil
}

func probeContentTypeOK(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	switch ct {
	case "application/json", "application/octet-stream", "text/plain":
		return true
	default:
		return false
	}
}

// lastDirectiveURL implements the ECMA-426 "last URL wins with reset
// on code" scan: lastURL is updated by any sourceMappingURL directive
// found inside a comment, and reset to empty by any non-whitespace,
// non-comment token. Multi-line comments carry across lines.
func lastDirectiveURL(src string) string {
	var lastURL string
	i := 0
	n := len(src)
	inBlockComment := false

	for i < n {
		c := src[i]

		if inBlockComment {
			end := strings.Index(src[i:], "*/")
			var commentBody string
			if end < 0 {
				commentBody = src[i:]
				i = n
			} else {
				commentBody = src[i : i+end]
				i += end + 2
				inBlockComment = false
			}
			if m := reDirective.FindStringSubmatch("/*" + commentBody + "*/"); m != nil {
				if m[2] != "" {
					lastURL = m[2]
				}
			}
			continue
		}

		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '/' && i+1 < n && src[i+1] == '/':
			lineEnd := strings.IndexByte(src[i:], '\n')
			var line string
			if lineEnd < 0 {
				line = src[i:]
				i = n
			} else {
				line = src[i : i+lineEnd]
				i += lineEnd + 1
			}
			if m := reDirective.FindStringSubmatch(line); m != nil {
				if m[1] != "" {
					lastURL = m[1]
				}
			}
		case c == '/' && i+1 < n && src[i+1] == '*':
			inBlockComment = true
			i += 2
		default:
			lastURL = ""
			i++
		}
	}

	return strings.TrimSpace(lastURL)
}
