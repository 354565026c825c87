// Package bundles discovers a page's JS/CSS bundles: fetch via
// httpclient, query the DOM with goquery, and resolve every
// script/stylesheet reference against the final response URL so
// redirects don't poison relative paths.
package bundles

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/reconweb/internal/httpclient"
	"github.com/use-agent/reconweb/internal/reconcache"
	"github.com/use-agent/reconweb/models"
)

type Discoverer struct {
	http  *httpclient.Client
	cache *reconcache.Cache
}

func NewDiscoverer(client *httpclient.Client, cache *reconcache.Cache) *Discoverer {
	return &Discoverer{http: client, cache: cache}
}

// Discover fetches pageURL and returns its bundles plus any same-origin
// redirect edge. Bundles are grouped by kind: <script src> entries
// first, then modulepreload links not already seen as scripts, then
// stylesheets, each group in document order. A cache hit re-parses the
// cached body against pageURL itself, so it reports no redirect edge.
func (d *Discoverer) Discover(ctx context.Context, pageURL string) (models.ScrapeResult, error) {
	if cached, ok := d.cache.GetPage(pageURL); ok {
		return decodeCachedResult(cached, pageURL)
	}

	resp, err := d.http.Get(ctx, pageURL, 0)
	if err != nil {
		return models.ScrapeResult{}, err
	}

	result, err := parseBundles(pageURL, resp.FinalURL, resp.Body)
	if err != nil {
		return models.ScrapeResult{}, err
	}

	d.cache.SetPage(pageURL, resp.Body)
	return result, nil
}

func decodeCachedResult(body []byte, pageURL string) (models.ScrapeResult, error) {
	return parseBundles(pageURL, pageURL, body)
}

func parseBundles(pageURL, finalURL string, body []byte) (models.ScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.ScrapeResult{}, models.NewError(models.ErrFetchFailed, "parse page HTML", err).WithURL(pageURL)
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		base, _ = url.Parse(pageURL)
	}

	var bundles []models.BundleRef
	seenScriptSrcs := make(map[string]bool)

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if !looksLikeJS(src) {
			return
		}
		resolved := resolve(base, src)
		if resolved == "" {
			return
		}
		seenScriptSrcs[resolved] = true
		bundles = append(bundles, models.BundleRef{URL: resolved, Kind: models.BundleScript})
	})

	doc.Find("link[rel=modulepreload][href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved := resolve(base, href)
		if resolved == "" || seenScriptSrcs[resolved] {
			return
		}
		bundles = append(bundles, models.BundleRef{URL: resolved, Kind: models.BundleScript})
	})

	doc.Find("link[rel=stylesheet][href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !looksLikeCSS(href) {
			return
		}
		resolved := resolve(base, href)
		if resolved == "" {
			return
		}
		bundles = append(bundles, models.BundleRef{URL: resolved, Kind: models.BundleStylesheet})
	})

	result := models.ScrapeResult{PageURL: pageURL, FinalURL: finalURL, Bundles: bundles}

	if finalURL != "" && finalURL != pageURL {
		if sameOrigin(pageURL, finalURL) {
			result.Redirect = &models.RedirectEdge{From: pageURL, To: finalURL, Status: 301}
		}
	}

	return result, nil
}

func looksLikeJS(src string) bool {
	return strings.HasSuffix(src, ".js") || strings.Contains(src, ".js?")
}

func looksLikeCSS(href string) bool {
	return strings.HasSuffix(href, ".css") || strings.Contains(href, ".css?")
}

func resolve(base *url.URL, ref string) string {
	if base == nil || ref == "" {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

func sameOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}
