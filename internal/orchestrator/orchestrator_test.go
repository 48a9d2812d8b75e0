//go:build linux

package orchestrator

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paiml/renacer/internal/filter"
	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/sourcemap"
	"github.com/paiml/renacer/internal/stats"
)

// captureFormatter records the pipeline's formatter calls.
type captureFormatter struct {
	records []*model.SyscallRecord
	rows    []stats.Row
	ended   bool
	fail    error
}

func (c *captureFormatter) Record(rec *model.SyscallRecord) error {
	if c.fail != nil {
		return c.fail
	}
	c.records = append(c.records, rec)
	return nil
}

func (c *captureFormatter) SetSummary(rows []stats.Row) { c.rows = rows }
func (c *captureFormatter) End() error                  { c.ended = true; return nil }

func mustFilter(t *testing.T, expr string) *filter.Filter {
	t.Helper()
	f, err := filter.Parse(expr)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func testRecord(name string, durUS uint64) *model.SyscallRecord {
	return &model.SyscallRecord{Name: name, ExitTime: durUS * 1000}
}

// TestInvalidFilterIsUsageError verifies the exit-2 policy for bad
// trace expressions.
func TestInvalidFilterIsUsageError(t *testing.T) {
	_, code, err := newSession(Config{FilterExpr: "Bad Filter", Argv: []string{"/bin/true"}})
	if err == nil {
		t.Fatal("invalid filter accepted")
	}
	if code != UsageExitCode {
		t.Errorf("code = %d, want %d", code, UsageExitCode)
	}
}

// TestInvalidExplicitTraceparentIsUsageError verifies an explicit bad
// traceparent aborts while env-sourced ones degrade (checked separately).
func TestInvalidExplicitTraceparentIsUsageError(t *testing.T) {
	_, code, err := newSession(Config{
		Argv:         []string{"/bin/true"},
		OTLPEndpoint: "http://127.0.0.1:4318",
		TraceParent:  "00-0000-bad-ff",
	})
	if err == nil {
		t.Fatal("invalid traceparent accepted")
	}
	if code != UsageExitCode {
		t.Errorf("code = %d, want %d", code, UsageExitCode)
	}
}

// TestPipelineFilterGating verifies scenario 2's semantics inside the
// pipeline: trace=file,!close admits write, drops close and socket.
func TestPipelineFilterGating(t *testing.T) {
	cf := &captureFormatter{}
	s := &session{
		cfg:       Config{},
		filter:    mustFilter(t, "file,!close"),
		formatter: cf,
	}

	for _, name := range []string{"write", "close", "socket", "openat", "close"} {
		s.handleRecord(testRecord(name, 10))
	}

	var names []string
	for _, r := range cf.records {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "write,openat" {
		t.Errorf("admitted = %v", names)
	}
	if s.admitted != 2 {
		t.Errorf("admitted count = %d, want 2", s.admitted)
	}
}

// TestPipelineSourceMapRewrite verifies attributions are translated
// before any consumer sees them.
func TestPipelineSourceMapRewrite(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "map.json")
	mapJSON := `{
	  "version": 1, "source_language": "python",
	  "source_file": "app.py", "generated_file": "app.rs",
	  "mappings": [{"rust_line": 7, "python_line": 3, "rust_function": "run_impl", "python_function": "run"}],
	  "function_map": {"run_impl": "run"}
	}`
	if err := os.WriteFile(mapPath, []byte(mapJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := sourcemap.Load(mapPath)
	if err != nil {
		t.Fatal(err)
	}

	cf := &captureFormatter{}
	s := &session{cfg: Config{}, filter: mustFilter(t, ""), formatter: cf, srcMap: m}

	rec := testRecord("write", 10)
	rec.Source = &model.SourceLocation{File: "app.rs", Line: 7, Function: "run_impl"}
	rec.Stack = []model.SourceLocation{*rec.Source}
	s.handleRecord(rec)

	got := cf.records[0].Source
	if got.File != "app.py" || got.Line != 3 || got.Function != "run" {
		t.Errorf("rewritten source = %+v", got)
	}
	if cf.records[0].Stack[0].Function != "run" {
		t.Errorf("stack frame not rewritten: %+v", cf.records[0].Stack[0])
	}
}

// TestFormatterFailureDoesNotStopPipeline verifies a broken writer stops
// formatting but keeps stats flowing (FormatError policy).
func TestFormatterFailureDoesNotStopPipeline(t *testing.T) {
	cf := &captureFormatter{fail: errors.New("broken pipe")}
	tracker := stats.NewTracker(true)
	s := &session{cfg: Config{}, filter: mustFilter(t, ""), formatter: cf, tracker: tracker}

	s.handleRecord(testRecord("write", 10))
	s.handleRecord(testRecord("write", 10))

	if !s.formatErr {
		t.Error("formatter failure not latched")
	}
	if tracker.TotalCalls() != 2 {
		t.Errorf("stats stopped at %d records", tracker.TotalCalls())
	}
}

// TestFinishOrderStatsBeforeTeardown verifies the summary lands on the
// formatter before the session finishes (the exporter teardown comes
// after summaries by construction).
func TestFinishOrderStatsBeforeTeardown(t *testing.T) {
	cf := &captureFormatter{}
	tracker := stats.NewTracker(true)
	var report bytes.Buffer
	s := &session{
		cfg:       Config{Stats: true},
		filter:    mustFilter(t, ""),
		formatter: cf,
		tracker:   tracker,
		report:    &report,
	}

	for i := 0; i < 5; i++ {
		s.handleRecord(testRecord("write", 100))
	}
	s.finish()

	if !cf.ended {
		t.Error("formatter End not called")
	}
	if len(cf.rows) != 1 || cf.rows[0].Syscall != "write" || cf.rows[0].Calls != 5 {
		t.Errorf("summary rows = %+v", cf.rows)
	}
}

// TestExtendedReportOnFinish verifies --stats-extended output includes
// the percentile table and post-hoc anomalies.
func TestExtendedReportOnFinish(t *testing.T) {
	tracker := stats.NewTracker(true)
	var report bytes.Buffer
	s := &session{
		cfg:       Config{Stats: true, StatsExtended: true, AnomalyThreshold: 3.0},
		filter:    mustFilter(t, ""),
		formatter: &captureFormatter{},
		tracker:   tracker,
		report:    &report,
	}

	for i := 0; i < 19; i++ {
		s.handleRecord(testRecord("read", 100))
	}
	s.handleRecord(testRecord("read", 10000))
	s.finish()

	out := report.String()
	if !strings.Contains(out, "p99") {
		t.Errorf("missing percentile table:\n%s", out)
	}
	if !strings.Contains(out, "anomaly: read") {
		t.Errorf("missing post-hoc anomaly:\n%s", out)
	}
}

// TestNewFormatterValidation verifies unknown formats are usage errors.
func TestNewFormatterValidation(t *testing.T) {
	_, code, err := newSession(Config{Argv: []string{"/bin/true"}, Format: "yaml"})
	if err == nil {
		t.Fatal("unknown format accepted")
	}
	if code != UsageExitCode {
		t.Errorf("code = %d, want %d", code, UsageExitCode)
	}
}
