// Package capture builds ApiFixtures and CapturedAssets from
// intercepted request/response exchanges: glob-pattern matching picks
// out API calls, numeric/UUID path segments become :paramN
// placeholders, and everything else flows to the static asset path.
package capture

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/use-agent/reconweb/internal/rodpage"
	"github.com/use-agent/reconweb/models"
)

// FixtureBuilder derives ApiFixtures from exchanges matching any of a
// configured set of glob patterns, ranking fixture priority by literal
// path-segment count.
type FixtureBuilder struct {
	patterns []*regexp.Regexp
	ordinal  int
}

func NewFixtureBuilder(globPatterns []string) *FixtureBuilder {
	fb := &FixtureBuilder{}
	for _, g := range globPatterns {
		fb.patterns = append(fb.patterns, globToRegexp(g))
	}
	return fb
}

// globToRegexp compiles a "**"/"*" glob into an anchored regexp.
func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(glob) {
		if strings.HasPrefix(glob[i:], "**") {
			b.WriteString(".*")
			i += 2
			continue
		}
		c := glob[i]
		if c == '*' {
			b.WriteString("[^/]*")
		} else {
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
		i++
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return regexp.MustCompile("$^") // matches nothing
	}
	return re
}

// Matches reports whether path matches any configured pattern.
func (fb *FixtureBuilder) Matches(urlPath string) bool {
	for _, re := range fb.patterns {
		if re.MatchString(urlPath) {
			return true
		}
	}
	return false
}

var reNumericOrUUID = regexp.MustCompile(`^(?:[0-9]+|[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`)

// Build derives an ApiFixture from ex if its path matches a configured
// pattern. headerAllowlist restricts which response headers survive
// into the fixture.
func (fb *FixtureBuilder) Build(ex rodpage.Exchange, headerAllowlist []string) (models.ApiFixture, bool) {
	u, err := url.Parse(ex.URL)
	if err != nil {
		return models.ApiFixture{}, false
	}
	if !fb.Matches(u.Path) {
		return models.ApiFixture{}, false
	}

	pattern, params := derivePattern(u.Path)
	priority := countLiteralSegments(pattern)

	fb.ordinal++
	id := fixtureID(ex.Method, pattern, priority, fb.ordinal)

	bodyStr, bodyType := encodeBody(ex.ResponseHeaders["content-type"], ex.ResponseBody)

	return models.ApiFixture{
		ID:       id,
		Priority: priority,
		Request: models.FixtureRequest{
			Method:     ex.Method,
			URL:        ex.URL,
			Path:       u.Path,
			Pattern:    pattern,
			PathParams: params,
			Query:      u.Query(),
			Headers:    filterHeaders(ex.RequestHeaders, headerAllowlist),
		},
		Response: models.FixtureResponse{
			Status:     ex.Status,
			StatusText: ex.StatusText,
			Headers:    filterHeaders(ex.ResponseHeaders, headerAllowlist),
			Body:       bodyStr,
			BodyType:   bodyType,
		},
		Metadata: models.FixtureMetadata{
			CapturedAt:     time.Now().UTC().Format(time.RFC3339),
			ResponseTimeMs: ex.ResponseTimeMs,
			SourcePageURL:  ex.SourcePageURL,
		},
	}, true
}

// derivePattern replaces numeric/UUID-looking path segments with
// :paramN placeholders and returns the param values keyed by name.
func derivePattern(urlPath string) (string, map[string]string) {
	segments := strings.Split(urlPath, "/")
	params := make(map[string]string)
	n := 0
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if reNumericOrUUID.MatchString(seg) {
			n++
			name := fmt.Sprintf("param%d", n)
			params[name] = seg
			segments[i] = ":" + name
		}
	}
	return strings.Join(segments, "/"), params
}

func countLiteralSegments(pattern string) int {
	count := 0
	for _, seg := range strings.Split(pattern, "/") {
		if seg != "" && !strings.HasPrefix(seg, ":") {
			count++
		}
	}
	return count
}

func fixtureID(method, pattern string, priority, ordinal int) string {
	h := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d|%d", method, pattern, priority, ordinal)))
	return hex.EncodeToString(h[:])[:16]
}

func filterHeaders(headers map[string]string, allowlist []string) map[string]string {
	if len(allowlist) == 0 {
		return headers
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, h := range allowlist {
		allowed[strings.ToLower(h)] = true
	}
	out := make(map[string]string)
	for k, v := range headers {
		if allowed[strings.ToLower(k)] {
			out[k] = v
		}
	}
	return out
}

func encodeBody(contentType string, body []byte) (string, models.BodyType) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return string(body), models.BodyJSON
	case strings.Contains(ct, "text") || strings.Contains(ct, "xml") || ct == "":
		return string(body), models.BodyText
	default:
		return base64.StdEncoding.EncodeToString(body), models.BodyBinary
	}
}

// SortFixturesByPriority sorts fixture index entries descending by
// priority so the mock server's first match is the most specific.
func SortFixturesByPriority(entries []models.FixtureIndexEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Priority < entries[j].Priority; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}
