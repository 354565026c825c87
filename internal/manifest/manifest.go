// Package manifest assembles and writes the output-boundary JSON
// documents: the root manifest.json, _server/manifest.json, and the
// fixture index/files the local mock server reads. Writes are atomic
// (tmp file, then rename).
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/reconweb/internal/capture"
	"github.com/use-agent/reconweb/models"
)

// WriteRoot writes manifest.json at outputDir, aggregating every
// bundle's manifest plus an extension/directory breakdown.
func WriteRoot(outputDir, sourceURL string, mode models.ReconstructionMode, bundles []models.BundleManifest, extractedAt string) error {
	total := 0
	byExt := map[string]int{}
	byDir := map[string]int{}
	for _, b := range bundles {
		total += b.FilesExtracted
		for _, f := range b.Files {
			byExt[strings.ToLower(filepath.Ext(f))]++
			dir := filepath.Dir(f)
			if dir == "." {
				dir = "/"
			}
			byDir[dir]++
		}
	}

	m := models.ReconstructionManifest{
		ExtractedAt: extractedAt,
		SourceURL:   sourceURL,
		Mode:        mode,
		Bundles:     bundles,
		TotalFiles:  total,
		Stats:       &models.ManifestStats{ByExtension: byExt, ByDirectory: byDir},
	}
	return writeJSON(filepath.Join(outputDir, "manifest.json"), m)
}

// ServerOptions configures the mock-server-facing manifest.
type ServerOptions struct {
	Name            string
	DefaultPort     int
	CORS            bool
	DelayEnabled    bool
	DelayMinMs      int
	DelayMaxMs      int
	StaticEnabled   bool
	Entrypoint      string
	StaticPathPrefix string
}

// WriteServer writes _server/manifest.json, _server/fixtures/_index.json,
// and one JSON file per fixture under _server/fixtures/.
func WriteServer(outputDir, sourceURL, capturedAt string, opts ServerOptions, fixtures []models.ApiFixture, assets []models.CapturedAsset, redirects []models.RedirectEdge) error {
	serverDir := filepath.Join(outputDir, "_server")
	fixturesDir := filepath.Join(serverDir, "fixtures")
	if err := os.MkdirAll(fixturesDir, 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir fixtures dir: %w", err)
	}

	entries := make([]models.FixtureIndexEntry, 0, len(fixtures))
	for _, fx := range fixtures {
		file := fixtureFilename(fx)
		entries = append(entries, models.FixtureIndexEntry{
			ID: fx.ID, Method: fx.Request.Method, Pattern: fx.Request.Pattern,
			Priority: fx.Priority, File: file,
		})
		if err := writeJSON(filepath.Join(fixturesDir, file), fx); err != nil {
			return err
		}
	}
	capture.SortFixturesByPriority(entries)

	if err := writeJSON(filepath.Join(fixturesDir, "_index.json"), models.FixtureIndex{
		GeneratedAt: capturedAt,
		Fixtures:    entries,
	}); err != nil {
		return err
	}

	sm := models.ServerManifest{
		Name:       opts.Name,
		SourceURL:  sourceURL,
		CapturedAt: capturedAt,
		Server: models.ServerInfo{
			DefaultPort: opts.DefaultPort,
			CORS:        opts.CORS,
			Delay:       models.DelayInfo{Enabled: opts.DelayEnabled, MinMs: opts.DelayMinMs, MaxMs: opts.DelayMaxMs},
		},
		Routes: models.RoutesInfo{API: "/api", Static: "/"},
		Fixtures: models.FixturesInfo{
			Count:     len(fixtures),
			IndexFile: "fixtures/_index.json",
		},
		Static: models.StaticInfo{
			Enabled:    opts.StaticEnabled,
			Entrypoint: opts.Entrypoint,
			AssetCount: len(assets),
			PathPrefix: opts.StaticPathPrefix,
		},
		Redirects: redirects,
	}
	return writeJSON(filepath.Join(serverDir, "manifest.json"), sm)
}

func fixtureFilename(fx models.ApiFixture) string {
	escaped := strings.NewReplacer("/", "_", ":", "_", "*", "_", "?", "_").Replace(fx.Request.Pattern)
	escaped = strings.Trim(escaped, "_")
	return fmt.Sprintf("%s_%s.json", strings.ToLower(fx.Request.Method), escaped)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: rename %s: %w", path, err)
	}
	return nil
}
