// Package reconstruct writes ExtractedSources to disk under a
// sanitised, contained path and builds a per-bundle manifest. Every
// resolved destination is verified to stay under
// outputDir/bundleName before anything touches the filesystem, so a
// hostile sources entry can never escape its bundle's directory.
package reconstruct

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/reconweb/models"
)

// Reconstructor writes extracted sources under outputDir.
type Reconstructor struct {
	outputDir      string
	manifestLimit  int
}

func New(outputDir string, manifestLimit int) *Reconstructor {
	if manifestLimit <= 0 {
		manifestLimit = 100
	}
	return &Reconstructor{outputDir: outputDir, manifestLimit: manifestLimit}
}

// WriteBundle writes every file in an ExtractionResult, suppressing
// unchanged writes via an MD5+size hash comparison, and returns the
// bundle manifest plus any per-file failures (never fatal).
func (r *Reconstructor) WriteBundle(bundleName, bundleURL, sourceMapURL string, files []models.ExtractedSource) (models.BundleManifest, []string) {
	bundleDir := filepath.Join(r.outputDir, sanitizeSegment(bundleName))

	manifest := models.BundleManifest{BundleURL: bundleURL, SourceMapURL: sourceMapURL}
	var failures []string
	var written int

	for _, f := range files {
		rel := sanitizePath(f.Path)
		destPath, err := containUnder(bundleDir, rel)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Path, err))
			continue
		}

		changed, err := writeIfChanged(destPath, []byte(f.Content))
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Path, err))
			continue
		}
		_ = changed // both changed and unchanged count as "written" for UX, per spec

		written++
		if len(manifest.Files) < r.manifestLimit {
			manifest.Files = append(manifest.Files, rel)
		}
	}

	manifest.FilesExtracted = written
	return manifest, failures
}

// sanitizeSegment sanitizes a single path segment (e.g. a bundle name
// derived from a URL) for use as a directory name.
func sanitizeSegment(s string) string {
	return replaceWeirdChars(s)
}

// sanitizePath sanitizes a normalized relative path for safe
// filesystem use: replace characters illegal on common filesystems.
func sanitizePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = replaceWeirdChars(seg)
	}
	return strings.Join(segments, "/")
}

var weirdCharReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "|", "_", "?", "_", "*", "_",
)

func replaceWeirdChars(s string) string {
	return weirdCharReplacer.Replace(s)
}

// containUnder resolves rel against base and verifies the result
// stays under base, guarding against a normalised-but-still-escaping
// ".." sequence reaching this far.
func containUnder(base, rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	joined := filepath.Join(base, filepath.FromSlash(rel))
	cleanBase := filepath.Clean(base) + string(filepath.Separator)
	if !strings.HasPrefix(joined+string(filepath.Separator), cleanBase) {
		return "", fmt.Errorf("reconstruct: path %q escapes bundle root", rel)
	}
	return joined, nil
}

// writeIfChanged compares size and MD5 against any existing file at
// dest, skipping the write when they match. Returns whether content
// actually changed on disk.
func writeIfChanged(dest string, content []byte) (bool, error) {
	if existing, err := os.ReadFile(dest); err == nil {
		if len(existing) == len(content) && md5Equal(existing, content) {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, nil
}

func md5Equal(a, b []byte) bool {
	return md5.Sum(a) == md5.Sum(b)
}
