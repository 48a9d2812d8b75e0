package decision

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paiml/renacer/internal/model"
)

// TestParseDecisionLine verifies the canonical shape.
func TestParseDecisionLine(t *testing.T) {
	d, ok := ParseLine(`[DECISION] simd::width_select input={"n":1024} result={"width":256}`)
	require.True(t, ok)
	require.Equal(t, MarkerDecision, d.Marker)
	require.Equal(t, "simd", d.Category)
	require.Equal(t, "width_select", d.Name)
	require.Equal(t, `{"n":1024}`, d.Input)
	require.Equal(t, `{"width":256}`, d.Result)
}

// TestParseResultLine verifies the result-only shape.
func TestParseResultLine(t *testing.T) {
	d, ok := ParseLine(`[RESULT] codegen::loop_unroll result={"factor":4}`)
	require.True(t, ok)
	require.Equal(t, MarkerResult, d.Marker)
	require.Equal(t, "codegen", d.Category)
	require.Equal(t, `{"factor":4}`, d.Result)
	require.Empty(t, d.Input)
}

// TestParseRejectsUnmarkedAndMalformed verifies non-decision lines and
// marker lines without category::name are skipped.
func TestParseRejectsUnmarkedAndMalformed(t *testing.T) {
	for _, line := range []string{
		"ordinary stdout line",
		"[DECISION] missing-separator result={}",
		"[DECISION] ::noname result={}",
		"[DECISION] nocategory:: result={}",
	} {
		if _, ok := ParseLine(line); ok {
			t.Errorf("ParseLine(%q) accepted", line)
		}
	}
}

// TestContentAddressDeduplicates verifies the 64-bit id is stable for
// identical category::name::file:line and distinct otherwise.
func TestContentAddressDeduplicates(t *testing.T) {
	a := contentAddress("simd", "width", "gen.rs", 10)
	b := contentAddress("simd", "width", "gen.rs", 10)
	c := contentAddress("simd", "width", "gen.rs", 11)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

// TestIngestAttachesSourceAndTimestamp verifies record context flows into
// the parsed decision.
func TestIngestAttachesSourceAndTimestamp(t *testing.T) {
	col := NewCollector()
	rec := &model.SyscallRecord{
		Name:      "write",
		EntryTime: 42_000_000, // 42ms -> 42000µs
		Source:    &model.SourceLocation{File: "gen.rs", Line: 88, Function: "emit"},
	}
	col.Ingest(rec, []byte("[DECISION] simd::width input={} result={}\nplain line\n"))

	ds := col.Decisions()
	require.Len(t, ds, 1)
	require.Equal(t, "gen.rs", ds[0].File)
	require.Equal(t, 88, ds[0].Line)
	require.Equal(t, uint64(42_000), ds[0].TimestampMicros)
	require.Equal(t, contentAddress("simd", "width", "gen.rs", 88), ds[0].ID)
}

// TestSidecarRoundTrip verifies the msgpack sidecar and manifest layout.
func TestSidecarRoundTrip(t *testing.T) {
	col := NewCollector()
	col.Ingest(nil, []byte(`[DECISION] simd::width input={"n":4} result={"w":256}`))
	col.Ingest(nil, []byte(`[DECISION] simd::width input={"n":8} result={"w":256}`))
	col.Ingest(nil, []byte(`[RESULT] codegen::unroll result={"factor":2}`))

	dir := t.TempDir()
	require.NoError(t, col.WriteSidecar(dir))

	back, err := ReadSidecar(filepath.Join(dir, SidecarName))
	require.NoError(t, err)
	require.Len(t, back, 3)
	require.Equal(t, col.Decisions(), back)

	manifest := readManifest(t, filepath.Join(dir, ManifestName))
	require.Equal(t, ManifestVersion, manifest.Version)
	require.Equal(t, 3, manifest.DecisionCount)
	require.NotEmpty(t, manifest.RunID)
	// two distinct content addresses: simd::width (x2) and codegen::unroll
	require.Len(t, manifest.Decisions, 2)
	for _, desc := range manifest.Decisions {
		if desc.Name == "width" {
			require.Equal(t, 2, desc.Count)
		}
	}
}

func readManifest(t *testing.T, path string) Manifest {
	t.Helper()
	var m Manifest
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}
