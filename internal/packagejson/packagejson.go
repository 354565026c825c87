// Package packagejson writes the reconstructed project's package.json
// dependency block plus its sibling provenance documents
// (_versionMeta, _importAliases, _bundlerAliasConfig, _notes).
package packagejson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/use-agent/reconweb/models"
)

// Entry is one package's attribution going into package.json.
type Entry struct {
	Name       string
	Result     models.VersionResult
	Found      bool
	IsInternal bool // detected internal workspace package, not an npm dependency
}

// VersionMetaEntry records detection provenance for one package,
// mirroring the VersionResult shape but keyed for the sibling
// _versionMeta.json document.
type VersionMetaEntry struct {
	Version    string `json:"version"`
	Confidence string `json:"confidence"`
	Source     string `json:"source"`
}

// Document is the full set of files Write produces.
type Document struct {
	PackageJSON        map[string]any               `json:"-"`
	VersionMeta        map[string]VersionMetaEntry   `json:"-"`
	ImportAliases      map[string]string             `json:"-"`
	BundlerAliasConfig map[string]string             `json:"-"`
	Notes              []string                      `json:"-"`
}

// Build derives the dependency block and provenance documents from a
// set of per-package detection results. Exact confidence pins the exact
// version, anything else found gets a caret range, unknown packages
// get "*", and internal workspace packages get "workspace:*".
func Build(entries []Entry) Document {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	deps := map[string]string{}
	meta := map[string]VersionMetaEntry{}
	aliases := map[string]string{}
	var notes []string

	for _, e := range entries {
		switch {
		case e.IsInternal:
			deps[e.Name] = "workspace:*"
			notes = append(notes, fmt.Sprintf("%s: detected as an internal workspace package, pinned to workspace:*", e.Name))
		case !e.Found:
			deps[e.Name] = "*"
			notes = append(notes, fmt.Sprintf("%s: no version evidence found, pinned to \"*\"", e.Name))
		case e.Result.Confidence == models.ConfidenceExact:
			deps[e.Name] = e.Result.Version
		default:
			deps[e.Name] = "^" + e.Result.Version
			notes = append(notes, fmt.Sprintf("%s: version %s detected with %s confidence via %s, using caret range", e.Name, e.Result.Version, e.Result.Confidence, e.Result.Source))
		}

		if e.Found {
			meta[e.Name] = VersionMetaEntry{
				Version:    e.Result.Version,
				Confidence: string(e.Result.Confidence),
				Source:     string(e.Result.Source),
			}
		}
	}

	return Document{
		PackageJSON: map[string]any{
			"name":         "reconstructed-app",
			"version":      "0.0.0",
			"private":      true,
			"dependencies": deps,
		},
		VersionMeta:        meta,
		ImportAliases:      aliases,
		BundlerAliasConfig: map[string]string{},
		Notes:              notes,
	}
}

// Write persists package.json and its sibling provenance documents
// under outputDir.
func Write(outputDir string, doc Document) error {
	if err := writeJSON(filepath.Join(outputDir, "package.json"), doc.PackageJSON); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(outputDir, "_versionMeta.json"), doc.VersionMeta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(outputDir, "_importAliases.json"), doc.ImportAliases); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(outputDir, "_bundlerAliasConfig.json"), doc.BundlerAliasConfig); err != nil {
		return err
	}
	return writeJSON(filepath.Join(outputDir, "_notes.json"), doc.Notes)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("packagejson: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("packagejson: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("packagejson: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("packagejson: rename %s: %w", path, err)
	}
	return nil
}
