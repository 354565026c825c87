package sourcemap

import (
	"testing"

	"github.com/use-agent/reconweb/models"
)

func TestParseValidRegularMap(t *testing.T) {
	raw := []byte(`{
		"version": 3,
		"sources": ["foo.js", "bar.js"],
		"sourcesContent": ["content-foo", "content-bar"],
		"names": ["x", "y"],
		"mappings": "AAAA,CAAC;AACA"
	}`)
	result, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Regular == nil {
		t.Fatal("expected a regular map")
	}
	if len(result.Regular.Sources) != 2 {
		t.Errorf("len(Sources) = %d, want 2", len(result.Regular.Sources))
	}
}

func TestParseMissingVersionFails(t *testing.T) {
	raw := []byte(`{"sources": ["a.js"], "mappings": ""}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected MISSING_VERSION error")
	} else if re, ok := err.(*models.ReconError); !ok || re.Code != models.ErrMissingVersion {
		t.Errorf("got %v, want MISSING_VERSION", err)
	}
}

func TestParseUnsupportedVersionFails(t *testing.T) {
	raw := []byte(`{"version": 2, "sources": ["a.js"], "mappings": ""}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected INVALID_VERSION error")
	} else if re, ok := err.(*models.ReconError); !ok || re.Code != models.ErrInvalidVersion {
		t.Errorf("got %v, want INVALID_VERSION", err)
	}
}

func TestParseSectionsWithMappingsFails(t *testing.T) {
	raw := []byte(`{"version": 3, "mappings": "AAAA", "sections": []}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected INDEX_MAP_WITH_MAPPINGS error")
	} else if re, ok := err.(*models.ReconError); !ok || re.Code != models.ErrIndexMapWithMappings {
		t.Errorf("got %v, want INDEX_MAP_WITH_MAPPINGS", err)
	}
}

func TestParseIndexMapValid(t *testing.T) {
	raw := []byte(`{
		"version": 3,
		"sections": [
			{"offset": {"line": 0, "column": 0}, "map": {"version": 3, "sources": ["a.js"], "sourcesContent": ["a"], "mappings": "AAAA"}},
			{"offset": {"line": 10, "column": 0}, "map": {"version": 3, "sources": ["b.js"], "sourcesContent": ["b"], "mappings": "AAAA"}}
		]
	}`)
	result, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Index == nil || len(result.Index.Sections) != 2 {
		t.Fatalf("expected an index map with 2 sections, got %+v", result)
	}
}

func TestParseIndexMapOverlapFails(t *testing.T) {
	raw := []byte(`{
		"version": 3,
		"sections": [
			{"offset": {"line": 0, "column": 0}, "map": {"version": 3, "sources": ["a.js"], "sourcesContent": ["a"], "mappings": ""}},
			{"offset": {"line": 0, "column": 0}, "map": {"version": 3, "sources": ["b.js"], "sourcesContent": ["b"], "mappings": ""}}
		]
	}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected INDEX_MAP_OVERLAP error")
	} else if re, ok := err.(*models.ReconError); !ok || re.Code != models.ErrIndexMapOverlap {
		t.Errorf("got %v, want INDEX_MAP_OVERLAP", err)
	}
}

func TestParseIndexMapNestedFails(t *testing.T) {
	raw := []byte(`{
		"version": 3,
		"sections": [
			{"offset": {"line": 0, "column": 0}, "map": {"version": 3, "sections": []}}
		]
	}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected INDEX_MAP_NESTED error")
	} else if re, ok := err.(*models.ReconError); !ok || re.Code != models.ErrIndexMapNested {
		t.Errorf("got %v, want INDEX_MAP_NESTED", err)
	}
}

func TestParseMappingSourceIndexOutOfBoundsIsWarning(t *testing.T) {
	// One source declared, but the mapping references source index 1 (out
	// of bounds) — this is a recoverable warning, not a fatal error.
	raw := []byte(`{"version": 3, "sources": ["a.js"], "sourcesContent": ["a"], "mappings": "CCAA"}`)
	result, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	found := false
	for _, w := range result.Errs {
		if w.Code == models.ErrMappingSourceIndexOutOfBnds {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a MAPPING_SOURCE_INDEX_OUT_OF_BOUNDS warning, got %+v", result.Errs)
	}
}
