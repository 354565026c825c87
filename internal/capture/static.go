package capture

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/use-agent/reconweb/internal/rodpage"
	"github.com/use-agent/reconweb/models"
)

var capturableResourceTypes = map[string]bool{
	"Document": true, "Stylesheet": true, "Script": true,
	"Image": true, "Font": true, "Media": true,
}

// AssetCapturer maps captured static-resource exchanges to local
// paths and writes them under outputDir, with distinct layouts for
// same-origin, same-site-subdomain, and cross-origin URLs.
type AssetCapturer struct {
	outputDir          string
	rootHost           string
	sameSiteSubdomains []string
	maxBytes           int64
}

func NewAssetCapturer(outputDir, rootHost string, sameSiteSubdomains []string, maxBytes int64) *AssetCapturer {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &AssetCapturer{outputDir: outputDir, rootHost: rootHost, sameSiteSubdomains: sameSiteSubdomains, maxBytes: maxBytes}
}

// Capture writes ex's body to its mapped local path and returns the
// resulting CapturedAsset. isEntrypoint marks the page's own document.
func (a *AssetCapturer) Capture(ex rodpage.Exchange, isEntrypoint bool) (models.CapturedAsset, bool) {
	if !capturableResourceTypes[ex.ResourceType] {
		return models.CapturedAsset{}, false
	}
	if strings.HasPrefix(ex.URL, "data:") {
		return models.CapturedAsset{}, false
	}
	if ex.Status < 200 || ex.Status >= 300 {
		return models.CapturedAsset{}, false
	}
	if int64(len(ex.ResponseBody)) > a.maxBytes {
		return models.CapturedAsset{}, false
	}

	localPath, ok := a.localPath(ex.URL)
	if !ok {
		return models.CapturedAsset{}, false
	}

	dest := filepath.Join(a.outputDir, filepath.FromSlash(strings.TrimPrefix(localPath, "/")))
	if err := writeAtomic(dest, ex.ResponseBody); err != nil {
		return models.CapturedAsset{}, false
	}

	return models.CapturedAsset{
		URL:          ex.URL,
		LocalPath:    localPath,
		ContentType:  ex.ResponseHeaders["content-type"],
		Size:         int64(len(ex.ResponseBody)),
		IsEntrypoint: isEntrypoint,
	}, true
}

func (a *AssetCapturer) localPath(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	host := u.Hostname()
	switch {
	case host == a.rootHost:
		return sameOriginPath(u.Path), true
	case a.matchesSameSiteSubdomain(host):
		sub := strings.TrimSuffix(host, "."+a.rootHost)
		return "/_" + sub + sameOriginPath(u.Path), true
	default:
		return "/_external/" + externalFilename(rawURL), true
	}
}

func (a *AssetCapturer) matchesSameSiteSubdomain(host string) bool {
	for _, sub := range a.sameSiteSubdomains {
		if host == sub+"."+a.rootHost {
			return true
		}
	}
	return false
}

func sameOriginPath(p string) string {
	if p == "" || p == "/" {
		return "/index.html"
	}
	if !strings.Contains(filepath.Base(p), ".") {
		return strings.TrimSuffix(p, "/") + "/index.html"
	}
	return p
}

var reUnsafeFilenameChar = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func externalFilename(rawURL string) string {
	h := md5.Sum([]byte(rawURL))
	hash := hex.EncodeToString(h[:])[:12]
	base := rawURL
	if idx := strings.LastIndexByte(rawURL, '/'); idx >= 0 {
		base = rawURL[idx+1:]
	}
	if idx := strings.IndexByte(base, '?'); idx >= 0 {
		base = base[:idx]
	}
	if base == "" {
		base = "asset"
	}
	safe := reUnsafeFilenameChar.ReplaceAllString(base, "_")
	return hash + "_" + safe
}

func writeAtomic(dest string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
