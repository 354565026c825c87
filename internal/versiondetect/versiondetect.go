// Package versiondetect attributes an npm package version to a set of
// files recovered for that package, trying evidence sources in
// decreasing order of reliability: lockfile-shaped paths, source-map
// paths, custom-build markers, then version constants, with guards
// against URL- and JSDoc-embedded version lookalikes.
package versiondetect

import (
	"regexp"
	"strings"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/models"
)

type Detector struct {
	cfg config.VersionConfig
}

func New(cfg config.VersionConfig) *Detector {
	return &Detector{cfg: cfg}
}

var (
	rePnpm        = regexp.MustCompile(`node_modules/\.pnpm/([^/@]+)@([^/]+)/`)
	reYarnBerry   = regexp.MustCompile(`\.yarn/cache/([^/]+)-npm-([^-]+)-[0-9a-f]+\.zip`)
	reYarnClassic = regexp.MustCompile(`node_modules/([^/]+)/([0-9][^/]*)/`)
	reWebpackVer  = regexp.MustCompile(`webpack://[^/]*/node_modules/([^/@]+)@([^/]+)/`)

	reSourceMapVer1 = regexp.MustCompile(`node_modules/([^/@]+)@([^/]+)/`)
	reSourceMapVer2 = regexp.MustCompile(`node_modules/([^/]+)/v\??([0-9][^/]*)/`)

	reVersionConstant = regexp.MustCompile(`(?i)(?:exports\.)?(?:__)?VERSION(?:__)?\s*[=:]\s*["']([0-9]+\.[0-9]+\.[0-9]+[^"']*)["']`)
)

// Detect attributes a version to name using its recovered files,
// trying strategies in decreasing confidence order and returning the
// first hit.
func (d *Detector) Detect(name string, files []models.ExtractedSource) (models.VersionResult, bool) {
	if v, ok := detectLockfilePaths(name, files); ok {
		return v, true
	}
	if v, ok := detectSourceMapPaths(name, files); ok {
		return v, true
	}
	if v, ok := detectCustomBuild(name, files); ok {
		return v, true
	}
	if v, ok := detectVersionConstant(name, files); ok {
		return v, true
	}
	return models.VersionResult{}, false
}

func detectLockfilePaths(name string, files []models.ExtractedSource) (models.VersionResult, bool) {
	for _, f := range files {
		if m := rePnpm.FindStringSubmatch(f.OriginalPath); m != nil && matchesName(m[1], name) {
			return models.VersionResult{Version: m[2], Confidence: models.ConfidenceExact, Source: models.SourceLockfilePath}, true
		}
		if m := reYarnBerry.FindStringSubmatch(f.OriginalPath); m != nil && matchesName(m[1], name) {
			return models.VersionResult{Version: m[2], Confidence: models.ConfidenceExact, Source: models.SourceLockfilePath}, true
		}
		if m := reWebpackVer.FindStringSubmatch(f.OriginalPath); m != nil && matchesName(m[1], name) {
			return models.VersionResult{Version: m[2], Confidence: models.ConfidenceExact, Source: models.SourceLockfilePath}, true
		}
		if m := reYarnClassic.FindStringSubmatch(f.OriginalPath); m != nil && matchesName(m[1], name) {
			return models.VersionResult{Version: m[2], Confidence: models.ConfidenceExact, Source: models.SourceLockfilePath}, true
		}
	}
	return models.VersionResult{}, false
}

func detectSourceMapPaths(name string, files []models.ExtractedSource) (models.VersionResult, bool) {
	for _, f := range files {
		if m := reSourceMapVer1.FindStringSubmatch(f.OriginalPath); m != nil && matchesName(m[1], name) {
			return models.VersionResult{Version: m[2], Confidence: models.ConfidenceHigh, Source: models.SourceSourceMapPath}, true
		}
		if m := reSourceMapVer2.FindStringSubmatch(f.OriginalPath); m != nil && matchesName(m[1], name) {
			return models.VersionResult{Version: m[2], Confidence: models.ConfidenceHigh, Source: models.SourceSourceMapPath}, true
		}
	}
	return models.VersionResult{}, false
}

// detectCustomBuild applies package-name-derived regexes against file
// paths and the first 2000 bytes of each file's content.
func detectCustomBuild(name string, files []models.ExtractedSource) (models.VersionResult, bool) {
	escaped := regexp.QuoteMeta(name)
	rePath := regexp.MustCompile(escaped + `[-_/]v?([0-9]+\.[0-9]+\.[0-9]+)`)
	for _, f := range files {
		if m := rePath.FindStringSubmatch(f.Path); m != nil {
			return models.VersionResult{Version: m[1], Confidence: models.ConfidenceHigh, Source: models.SourceCustomBuild}, true
		}
		head := f.Content
		if len(head) > 2000 {
			head = head[:2000]
		}
		cleaned := stripFalsePositiveSources(head)
		if m := rePath.FindStringSubmatch(cleaned); m != nil && !looksLikeFalsePositiveContext(cleaned, m[0]) {
			return models.VersionResult{Version: m[1], Confidence: models.ConfidenceMedium, Source: models.SourceCustomBuild}, true
		}
	}
	return models.VersionResult{}, false
}

// detectVersionConstant searches the first 5000 and last 1000 bytes of
// each file for a VERSION-like constant assignment.
func detectVersionConstant(name string, files []models.ExtractedSource) (models.VersionResult, bool) {
	for _, f := range files {
		window := windowOf(f.Content)
		cleaned := stripFalsePositiveSources(window)
		if m := reVersionConstant.FindStringSubmatch(cleaned); m != nil {
			idx := strings.Index(cleaned, m[0])
			if idx >= 0 && looksLikeFalsePositiveContext(cleaned, m[0]) {
				continue
			}
			return models.VersionResult{Version: m[1], Confidence: models.ConfidenceMedium, Source: models.SourceVersionConstant}, true
		}
	}
	return models.VersionResult{}, false
}

func windowOf(content string) string {
	var b strings.Builder
	if len(content) <= 5000+1000 {
		return content
	}
	b.WriteString(content[:5000])
	b.WriteString(content[len(content)-1000:])
	return b.String()
}

func matchesName(candidate, name string) bool {
	return strings.EqualFold(candidate, name)
}

var (
	reURL          = regexp.MustCompile(`https?://\S+`)
	reQueryTail    = regexp.MustCompile(`\?[A-Za-z0-9_=&%.-]*`)
	reDataURI      = regexp.MustCompile(`data:[^"'\s)]+`)
	reJSDocParam   = regexp.MustCompile(`@param\s*\{[^}]*\}[^\n]*`)
	reJSDocBlock   = regexp.MustCompile(`/\*\*[\s\S]*?\*/`)
)

// stripFalsePositiveSources removes URL, query-string, data-URI, and
// JSDoc text that commonly embeds digit sequences resembling versions.
func stripFalsePositiveSources(s string) string {
	s = reJSDocBlock.ReplaceAllString(s, "")
	s = reJSDocParam.ReplaceAllString(s, "")
	s = reDataURI.ReplaceAllString(s, "")
	s = reURL.ReplaceAllString(s, "")
	s = reQueryTail.ReplaceAllString(s, "")
	return s
}

// looksLikeFalsePositiveContext rejects a match whose surrounding
// 100-character context looks like a URL path, query tail, or JSDoc
// option bracket.
func looksLikeFalsePositiveContext(s, match string) bool {
	idx := strings.Index(s, match)
	if idx < 0 {
		return false
	}
	start := idx - 100
	if start < 0 {
		start = 0
	}
	end := idx + len(match) + 100
	if end > len(s) {
		end = len(s)
	}
	context := s[start:end]
	return strings.Contains(context, "://") || strings.Contains(context, "?") ||
		strings.Contains(context, "@param") || strings.Contains(context, "{")
}
