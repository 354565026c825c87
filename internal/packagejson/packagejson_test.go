package packagejson

import (
	"testing"

	"github.com/use-agent/reconweb/models"
)

func TestBuildConfidenceMapping(t *testing.T) {
	entries := []Entry{
		{Name: "react", Found: true, Result: models.VersionResult{Version: "18.2.0", Confidence: models.ConfidenceExact, Source: models.SourceLockfilePath}},
		{Name: "lodash", Found: true, Result: models.VersionResult{Version: "4.17.21", Confidence: models.ConfidenceMedium, Source: models.SourceVersionConstant}},
		{Name: "unknown-pkg", Found: false},
		{Name: "app-shared", Found: false, IsInternal: true},
	}

	doc := Build(entries)
	deps := doc.PackageJSON["dependencies"].(map[string]string)

	if deps["react"] != "18.2.0" {
		t.Errorf("expected exact pin for react, got %q", deps["react"])
	}
	if deps["lodash"] != "^4.17.21" {
		t.Errorf("expected caret range for lodash, got %q", deps["lodash"])
	}
	if deps["unknown-pkg"] != "*" {
		t.Errorf("expected wildcard for unknown-pkg, got %q", deps["unknown-pkg"])
	}
	if deps["app-shared"] != "workspace:*" {
		t.Errorf("expected workspace:* for app-shared, got %q", deps["app-shared"])
	}
	if _, ok := doc.VersionMeta["react"]; !ok {
		t.Error("expected version meta entry for react")
	}
	if _, ok := doc.VersionMeta["unknown-pkg"]; ok {
		t.Error("did not expect version meta entry for unfound package")
	}
}
