// Package sourcemap rewrites source attributions for transpiled
// binaries: when the traced program was generated from another language,
// the map file translates generated-code locations back to the original
// source so reports and spans name the code the user actually wrote.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paiml/renacer/internal/model"
)

// Mapping is one line-level correspondence. The JSON keys for the
// original-language side depend on source_language (python_line,
// c_line, ...), so they are captured generically.
type Mapping struct {
	RustLine     int    `json:"rust_line"`
	RustFunction string `json:"rust_function"`

	origLine     int
	origFunction string
}

// Map is a loaded source map.
type Map struct {
	Version        int               `json:"version"`
	SourceLanguage string            `json:"source_language"`
	SourceFile     string            `json:"source_file"`
	GeneratedFile  string            `json:"generated_file"`
	FunctionMap    map[string]string `json:"function_map"`

	mappings map[int]Mapping // by generated line
}

// Load reads and validates a source-map file.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source map: %w", err)
	}

	var raw struct {
		Version        int                          `json:"version"`
		SourceLanguage string                       `json:"source_language"`
		SourceFile     string                       `json:"source_file"`
		GeneratedFile  string                       `json:"generated_file"`
		Mappings       []map[string]json.RawMessage `json:"mappings"`
		FunctionMap    map[string]string            `json:"function_map"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse source map %s: %w", path, err)
	}
	if raw.Version != 1 {
		return nil, fmt.Errorf("source map %s: unsupported version %d", path, raw.Version)
	}
	if raw.SourceLanguage == "" {
		return nil, fmt.Errorf("source map %s: missing source_language", path)
	}

	m := &Map{
		Version:        raw.Version,
		SourceLanguage: raw.SourceLanguage,
		SourceFile:     raw.SourceFile,
		GeneratedFile:  raw.GeneratedFile,
		FunctionMap:    raw.FunctionMap,
		mappings:       make(map[int]Mapping, len(raw.Mappings)),
	}
	if m.FunctionMap == nil {
		m.FunctionMap = map[string]string{}
	}

	lineKey := raw.SourceLanguage + "_line"
	funcKey := raw.SourceLanguage + "_function"
	for _, entry := range raw.Mappings {
		var mp Mapping
		if v, ok := entry["rust_line"]; ok {
			if err := json.Unmarshal(v, &mp.RustLine); err != nil {
				return nil, fmt.Errorf("source map %s: bad rust_line: %w", path, err)
			}
		}
		if v, ok := entry["rust_function"]; ok {
			_ = json.Unmarshal(v, &mp.RustFunction)
		}
		if v, ok := entry[lineKey]; ok {
			if err := json.Unmarshal(v, &mp.origLine); err != nil {
				return nil, fmt.Errorf("source map %s: bad %s: %w", path, lineKey, err)
			}
		}
		if v, ok := entry[funcKey]; ok {
			_ = json.Unmarshal(v, &mp.origFunction)
		}
		if mp.RustLine > 0 {
			m.mappings[mp.RustLine] = mp
		}
	}
	return m, nil
}

// Rewrite translates a generated-code attribution to the original
// source. Locations outside the generated file pass through unchanged;
// generated lines without a mapping still get the file and function-map
// rewrite so reports never show half-translated paths.
func (m *Map) Rewrite(loc model.SourceLocation) model.SourceLocation {
	if m.GeneratedFile != "" && loc.File != m.GeneratedFile {
		return loc
	}

	out := loc
	if m.SourceFile != "" {
		out.File = m.SourceFile
	}
	if mp, ok := m.mappings[loc.Line]; ok {
		if mp.origLine > 0 {
			out.Line = mp.origLine
		}
		if mp.origFunction != "" {
			out.Function = mp.origFunction
		}
	}
	if orig, ok := m.FunctionMap[loc.Function]; ok && orig != "" {
		out.Function = orig
	}
	return out
}
