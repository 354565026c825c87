package sourcemap

import (
	"context"
	"path"
	"strings"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/internal/httpclient"
	"github.com/use-agent/reconweb/internal/reconcache"
	"github.com/use-agent/reconweb/models"
)

// Extractor fetches, parses, validates, and extracts one bundle's
// source map end to end.
type Extractor struct {
	http  *httpclient.Client
	cache *reconcache.Cache
	cfg   config.ExtractConfig
}

func NewExtractor(client *httpclient.Client, cache *reconcache.Cache, cfg config.ExtractConfig) *Extractor {
	return &Extractor{http: client, cache: cache, cfg: cfg}
}

// Extract fetches, parses, validates, and extracts one bundle's map
// and returns an ExtractionResult. sink receives each ExtractedSource as it is
// produced, so a caller can stream writes rather than buffer the
// whole bundle's sources in memory.
func (e *Extractor) Extract(ctx context.Context, bundleURL, mapURL string, sink func(models.ExtractedSource)) (models.ExtractionResult, error) {
	if cached, ok := e.cache.GetExtraction(bundleURL); ok {
		for _, f := range cached.Files {
			sink(f)
		}
		return cached, nil
	}

	raw, err := e.fetch(ctx, mapURL)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	parsed, err := Parse(raw)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	var result models.ExtractionResult
	result.BundleURL = bundleURL
	result.MapURL = mapURL

	for _, w := range parsed.Errs {
		result.Errors = append(result.Errors, w)
	}

	switch {
	case parsed.Regular != nil:
		e.extractRegular(parsed.Regular, &result, sink)
	case parsed.Index != nil:
		for _, sec := range parsed.Index.Sections {
			if sec.Map != nil {
				e.extractRegular(sec.Map, &result, sink)
			}
		}
	}

	e.cache.SetExtraction(bundleURL, result)
	return result, nil
}

func (e *Extractor) fetch(ctx context.Context, mapURL string) ([]byte, error) {
	if strings.HasPrefix(mapURL, "data:") {
		body, _, err := httpclient.DecodeDataURI(mapURL)
		return body, err
	}

	if cached, ok := e.cache.GetRawMap(mapURL); ok {
		return cached, nil
	}

	maxBytes := e.cfg.MaxMapBytes
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	resp, err := e.http.Get(ctx, mapURL, maxBytes+1)
	if err != nil {
		return nil, err
	}
	if int64(len(resp.Body)) > maxBytes {
		return nil, models.NewError(models.ErrSourceMapTooLarge, "source map exceeds configured size cap", nil).WithURL(mapURL)
	}
	e.cache.SetRawMap(mapURL, resp.Body)
	return resp.Body, nil
}

func (e *Extractor) extractRegular(sm *models.SourceMap, result *models.ExtractionResult, sink func(models.ExtractedSource)) {
	result.Metadata.Version = sm.Version
	result.Metadata.SourceRoot = sm.SourceRoot
	result.Metadata.TotalSources += len(sm.Sources)

	for i, src := range sm.Sources {
		if src == nil {
			result.Metadata.SkippedCount++
			continue
		}
		var content string
		if i >= len(sm.SourcesContent) || sm.SourcesContent[i] == nil {
			result.Metadata.NullContentCount++
			continue
		}
		content = *sm.SourcesContent[i]

		normalized, ok := normalizePath(*src, sm.SourceRoot)
		if !ok {
			result.Metadata.SkippedCount++
			continue
		}

		es := models.ExtractedSource{Path: normalized, Content: content, OriginalPath: *src}
		result.Files = append(result.Files, es)
		result.Metadata.ExtractedCount++
		sink(es)
	}
}

const nullByteSentinel = "\x00"

// normalizePath applies the ECMA-426 path-normalisation pipeline: strip
// webpack:// project prefixes and null-byte sentinels, prepend
// sourceRoot when relative, collapse "./" segments, resolve ".."
// without escaping the root, reject disallowed substrings, and
// normalise Windows separators.
func normalizePath(raw, sourceRoot string) (string, bool) {
	p := raw

	if strings.Contains(p, "\x00") {
		if idx := strings.LastIndex(p, nullByteSentinel); idx >= 0 {
			p = p[idx+1:]
		}
	}

	if strings.HasPrefix(p, "webpack://") {
		rest := p[len("webpack://"):]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			p = rest[slash+1:]
		} else {
			p = ""
		}
	}

	p = strings.ReplaceAll(p, "\\", "/")

	if p != "" && !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, ".") && sourceRoot != "" {
		if !strings.HasSuffix(sourceRoot, "/") {
			p = sourceRoot + "/" + p
		} else {
			p = sourceRoot + p
		}
	}

	if strings.ContainsAny(p, "\x00") || strings.Contains(p, "data:") ||
		strings.Contains(p, "(webpack)/") || strings.Contains(p, "__vite") ||
		strings.Contains(p, "?") {
		return "", false
	}

	p = collapseDotSlash(p)
	p = resolveDotDot(p)

	return p, true
}

func collapseDotSlash(p string) string {
	for strings.Contains(p, "./") {
		before := p
		p = strings.ReplaceAll(p, "/./", "/")
		p = strings.TrimPrefix(p, "./")
		if p == before {
			break
		}
	}
	return p
}

// resolveDotDot walks the path resolving ".." segments against the
// segments accumulated so far, never letting a ".." escape the root —
// an unresolvable ".." (no prior segment to cancel) is kept literal.
func resolveDotDot(p string) string {
	leadingSlash := strings.HasPrefix(p, "/")
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	var out []string

	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else {
				out = append(out, "..")
			}
		default:
			out = append(out, seg)
		}
	}

	result := path.Join(out...)
	if result == "." {
		result = ""
	}
	if leadingSlash {
		result = "/" + result
	}
	return result
}
