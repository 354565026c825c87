package sourcemap

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/use-agent/reconweb/models"
)

const maxJSONPreview = 1000

// rawDoc is the loosely-typed shape used to classify a parsed map
// before committing to the regular-map or index-map struct.
type rawDoc struct {
	Version        *int              `json:"version"`
	File           *string           `json:"file"`
	SourceRoot     *string           `json:"sourceRoot"`
	Sources        json.RawMessage   `json:"sources"`
	SourcesContent json.RawMessage   `json:"sourcesContent"`
	Names          json.RawMessage   `json:"names"`
	Mappings       *string           `json:"mappings"`
	IgnoreList     []int             `json:"ignoreList"`
	Sections       json.RawMessage   `json:"sections"`
}

// ParseResult is the outcome of parsing and validating one fetched map
// document — exactly one of Regular or Index is set when Parse returns
// a nil error. Errs holds the recoverable warnings.
type ParseResult struct {
	Regular *models.SourceMap
	Index   *models.IndexMap
	Errs    []models.SourceMapError
}

// Parse JSON-decodes raw map bytes, classifies regular vs index, and
// fully validates the result per the ECMA-426 rules.
func Parse(raw []byte) (*ParseResult, error) {
	var doc rawDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, models.NewError(models.ErrInvalidJSON, "parse source map", err).
			WithDetail("preview", previewJSON(raw))
	}

	hasSections := len(doc.Sections) > 0 && string(doc.Sections) != "null"
	hasMappings := doc.Mappings != nil

	if hasSections && hasMappings {
		return nil, models.NewError(models.ErrIndexMapWithMappings,
			"object has both sections and mappings", nil)
	}

	if hasSections {
		idx, errs, err := validateIndexMap(doc)
		if err != nil {
			return nil, err
		}
		return &ParseResult{Index: idx, Errs: errs}, nil
	}

	sm, errs, err := validateRegularMap(doc)
	if err != nil {
		return nil, err
	}
	return &ParseResult{Regular: sm, Errs: errs}, nil
}

func previewJSON(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	if len(s) > maxJSONPreview {
		s = s[:maxJSONPreview]
	}
	return s
}

func validateRegularMap(doc rawDoc) (*models.SourceMap, []models.SourceMapError, error) {
	var warnings []models.SourceMapError

	if doc.Version == nil {
		return nil, nil, models.NewError(models.ErrMissingVersion, "version is required", nil)
	}
	if *doc.Version != 3 {
		return nil, nil, models.NewError(models.ErrInvalidVersion,
			fmt.Sprintf("unsupported version %d", *doc.Version), nil)
	}

	if len(doc.Sources) == 0 || string(doc.Sources) == "null" {
		return nil, nil, models.NewError(models.ErrMissingSources, "sources is required", nil)
	}
	sources, err := decodeNullableStringArray(doc.Sources)
	if err != nil {
		return nil, nil, models.NewError(models.ErrSourcesNotArray, "sources must be an array of string|null", err)
	}

	if doc.Mappings == nil {
		return nil, nil, models.NewError(models.ErrMissingMappings, "mappings is required", nil)
	}

	var sourcesContent []*string
	if len(doc.SourcesContent) > 0 && string(doc.SourcesContent) != "null" {
		sourcesContent, err = decodeNullableStringArray(doc.SourcesContent)
		if err != nil {
			return nil, nil, models.NewError(models.ErrInvalidSourcesContent, "sourcesContent must be an array of string|null", err)
		}
		if len(sourcesContent) != len(sources) {
			warnings = append(warnings, models.SourceMapError{
				Code:    models.ErrInvalidSourcesContent,
				Message: fmt.Sprintf("sourcesContent length %d does not match sources length %d", len(sourcesContent), len(sources)),
			})
		}
	}

	var names []string
	if len(doc.Names) > 0 && string(doc.Names) != "null" {
		if err := json.Unmarshal(doc.Names, &names); err != nil {
			return nil, nil, models.NewError(models.ErrInvalidNames, "names must be an array of strings", err)
		}
	}

	if doc.SourceRoot != nil {
		// rawDoc decodes sourceRoot and file as *string, so a non-string
		// value already fails the decode in Parse and is reported as
		// INVALID_JSON; INVALID_SOURCE_ROOT and INVALID_FILE are not
		// produced here.
		_ = *doc.SourceRoot
	}

	if doc.File != nil {
		_ = *doc.File
	}

	for _, idx := range doc.IgnoreList {
		if idx < 0 || idx >= len(sources) {
			return nil, nil, models.NewError(models.ErrInvalidIgnoreList,
				fmt.Sprintf("ignoreList index %d out of bounds", idx), nil)
		}
	}

	warnings = append(warnings, validateMappings(*doc.Mappings, len(sources), len(names))...)

	sm := &models.SourceMap{
		Version:        *doc.Version,
		Sources:        sources,
		SourcesContent: sourcesContent,
		Names:          names,
		Mappings:       *doc.Mappings,
		IgnoreList:     doc.IgnoreList,
	}
	if doc.File != nil {
		sm.File = *doc.File
	}
	if doc.SourceRoot != nil {
		sm.SourceRoot = *doc.SourceRoot
	}
	return sm, warnings, nil
}

func decodeNullableStringArray(raw json.RawMessage) ([]*string, error) {
	var arr []*string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	return arr, nil
}

// validateMappings decodes every VLQ segment group in the mappings
// string, enforcing field-count, sign, 32-bit, and index-bound rules.
// Every violation is recorded with the offending segment's line; a
// group that fails to decode at all abandons the rest of its line and
// recovery continues at the next one.
func validateMappings(mappings string, sourcesLen, namesLen int) []models.SourceMapError {
	var warnings []models.SourceMapError
	lines := strings.Split(mappings, ";")

	// Source index, original line/column and name index are deltas
	// across the whole mappings string; only the generated column (not
	// tracked here) restarts on each line.
	prevSource, prevLine, prevCol, prevName := 0, 0, 0, 0
	for lineIdx, line := range lines {
		if line == "" {
			continue
		}
		groups := strings.Split(line, ",")
		for groupIdx, group := range groups {
			if group == "" {
				continue
			}
			fields, err := decodeVLQSegment(group)
			if err != nil {
				code := models.ErrInvalidVLQ
				if strings.Contains(err.Error(), "32 bits") {
					code = models.ErrMappingValueExceeds32Bits
				}
				warnings = append(warnings, models.SourceMapError{
					Code:    code,
					Message: err.Error(),
					Line:    lineIdx,
					Column:  groupIdx,
				})
				break
			}
			switch len(fields) {
			case 1, 4, 5:
				// valid field counts
			default:
				warnings = append(warnings, models.SourceMapError{
					Code:    models.ErrInvalidMappingSegment,
					Message: fmt.Sprintf("segment has %d fields, want 1, 4, or 5", len(fields)),
					Line:    lineIdx,
				})
				continue
			}

			if len(fields) >= 4 {
				prevSource += fields[1]
				prevLine += fields[2]
				prevCol += fields[3]
				if prevSource < 0 || prevLine < 0 || prevCol < 0 {
					warnings = append(warnings, models.SourceMapError{
						Code: models.ErrMappingNegativeValue, Line: lineIdx,
						Message: "mapping accumulated a negative value",
					})
					continue
				}
				if prevSource >= sourcesLen {
					warnings = append(warnings, models.SourceMapError{
						Code: models.ErrMappingSourceIndexOutOfBnds, Line: lineIdx,
						Message: fmt.Sprintf("source index %d out of bounds (%d sources)", prevSource, sourcesLen),
					})
					continue
				}
			}
			if len(fields) == 5 {
				prevName += fields[4]
				if prevName < 0 {
					warnings = append(warnings, models.SourceMapError{
						Code: models.ErrMappingNegativeValue, Line: lineIdx,
						Message: "name index accumulated a negative value",
					})
					continue
				}
				if prevName >= namesLen {
					warnings = append(warnings, models.SourceMapError{
						Code: models.ErrMappingNameIndexOutOfBounds, Line: lineIdx,
						Message: fmt.Sprintf("name index %d out of bounds (%d names)", prevName, namesLen),
					})
					continue
				}
			}
		}
	}

	return warnings
}

func validateIndexMap(doc rawDoc) (*models.IndexMap, []models.SourceMapError, error) {
	if doc.Version == nil {
		return nil, nil, models.NewError(models.ErrMissingVersion, "version is required", nil)
	}

	var rawSections []struct {
		Offset struct {
			Line   *int `json:"line"`
			Column *int `json:"column"`
		} `json:"offset"`
		Map json.RawMessage `json:"map"`
	}
	if err := json.Unmarshal(doc.Sections, &rawSections); err != nil {
		return nil, nil, models.NewError(models.ErrInvalidIndexMapSections, "sections must be an array", err)
	}

	var warnings []models.SourceMapError
	sections := make([]models.IndexMapSection, 0, len(rawSections))
	prevLine, prevCol := -1, -1

	for i, rs := range rawSections {
		if rs.Offset.Line == nil || rs.Offset.Column == nil || *rs.Offset.Line < 0 || *rs.Offset.Column < 0 {
			return nil, nil, models.NewError(models.ErrInvalidIndexMapOffset,
				fmt.Sprintf("section %d has an invalid offset", i), nil)
		}
		line, col := *rs.Offset.Line, *rs.Offset.Column
		if i > 0 {
			if line < prevLine || (line == prevLine && col < prevCol) {
				return nil, nil, models.NewError(models.ErrIndexMapInvalidOrder,
					fmt.Sprintf("section %d is out of order", i), nil)
			}
			if line == prevLine && col == prevCol {
				return nil, nil, models.NewError(models.ErrIndexMapOverlap,
					fmt.Sprintf("section %d overlaps the previous section's offset", i), nil)
			}
		}
		prevLine, prevCol = line, col

		var innerDoc rawDoc
		if err := json.Unmarshal(rs.Map, &innerDoc); err != nil {
			return nil, nil, models.NewError(models.ErrInvalidIndexMapSectionMp,
				fmt.Sprintf("section %d map is malformed", i), err)
		}
		if len(innerDoc.Sections) > 0 && string(innerDoc.Sections) != "null" {
			return nil, nil, models.NewError(models.ErrIndexMapNested, "nested index maps are not allowed", nil)
		}
		innerMap, innerWarnings, err := validateRegularMap(innerDoc)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, innerWarnings...)

		sec := models.IndexMapSection{Map: innerMap}
		sec.Offset.Line = line
		sec.Offset.Column = col
		sections = append(sections, sec)
	}

	idx := &models.IndexMap{Version: *doc.Version, Sections: sections}
	if doc.File != nil {
		idx.File = *doc.File
	}
	return idx, warnings, nil
}
