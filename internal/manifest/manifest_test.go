package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/use-agent/reconweb/models"
)

func TestWriteRootAggregatesTotals(t *testing.T) {
	dir := t.TempDir()
	bundles := []models.BundleManifest{
		{BundleURL: "https://example.com/a.js", FilesExtracted: 2, Files: []string{"src/index.ts", "src/util.ts"}},
		{BundleURL: "https://example.com/b.js", FilesExtracted: 1, Files: []string{"lib/x.js"}},
	}
	if err := WriteRoot(dir, "https://example.com/", models.ModePage, bundles, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("WriteRoot: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m models.ReconstructionManifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if m.TotalFiles != 3 {
		t.Errorf("totalFiles = %d, want 3", m.TotalFiles)
	}
	if m.Mode != models.ModePage {
		t.Errorf("mode = %q, want page", m.Mode)
	}
	if m.Stats == nil || m.Stats.ByExtension[".ts"] != 2 {
		t.Errorf("stats = %+v, want 2 .ts files", m.Stats)
	}
}

func TestWriteServerSortsIndexByPriority(t *testing.T) {
	dir := t.TempDir()
	fixtures := []models.ApiFixture{
		{ID: "low", Priority: 1, Request: models.FixtureRequest{Method: "GET", Pattern: "/api/:param1"}},
		{ID: "high", Priority: 3, Request: models.FixtureRequest{Method: "GET", Pattern: "/api/users/detail"}},
	}
	opts := ServerOptions{Name: "example.com", DefaultPort: 4578, CORS: true, StaticEnabled: true, Entrypoint: "/index.html"}
	if err := WriteServer(dir, "https://example.com/", "2024-01-01T00:00:00Z", opts, fixtures, nil, nil); err != nil {
		t.Fatalf("WriteServer: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "_server", "fixtures", "_index.json"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var idx models.FixtureIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		t.Fatalf("parse index: %v", err)
	}
	if len(idx.Fixtures) != 2 || idx.Fixtures[0].ID != "high" {
		t.Errorf("index order = %+v, want most specific first", idx.Fixtures)
	}

	for _, entry := range idx.Fixtures {
		if _, err := os.Stat(filepath.Join(dir, "_server", "fixtures", entry.File)); err != nil {
			t.Errorf("fixture file %q missing: %v", entry.File, err)
		}
	}

	var sm models.ServerManifest
	data, err = os.ReadFile(filepath.Join(dir, "_server", "manifest.json"))
	if err != nil {
		t.Fatalf("read server manifest: %v", err)
	}
	if err := json.Unmarshal(data, &sm); err != nil {
		t.Fatalf("parse server manifest: %v", err)
	}
	if sm.Fixtures.Count != 2 || sm.Fixtures.IndexFile != "fixtures/_index.json" {
		t.Errorf("fixtures info = %+v", sm.Fixtures)
	}
	if sm.Routes.API != "/api" || sm.Routes.Static != "/" {
		t.Errorf("routes = %+v", sm.Routes)
	}
}

func TestFixtureFilenameEscapesPattern(t *testing.T) {
	fx := models.ApiFixture{Request: models.FixtureRequest{Method: "GET", Pattern: "/api/users/:param1"}}
	got := fixtureFilename(fx)
	if got != "get_api_users__param1.json" {
		t.Errorf("got %q", got)
	}
}
