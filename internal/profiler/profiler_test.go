package profiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/paiml/renacer/internal/model"
)

func rec(name string, durUS uint64, stack ...model.SourceLocation) *model.SyscallRecord {
	return &model.SyscallRecord{
		Name:     name,
		ExitTime: durUS * 1000,
		Stack:    stack,
	}
}

var (
	writeAll = model.SourceLocation{File: "io.c", Line: 10, Function: "write_all"}
	mainFn   = model.SourceLocation{File: "main.c", Line: 55, Function: "main"}
)

// TestAttributionToFirstUserFrame verifies calls and time land on the
// innermost user frame.
func TestAttributionToFirstUserFrame(t *testing.T) {
	p := New()
	p.Record(rec("write", 100, writeAll, mainFn))
	p.Record(rec("write", 200, writeAll, mainFn))

	fs, ok := p.Stats(model.FunctionKey{File: "io.c", Line: 10, Function: "write_all"})
	if !ok {
		t.Fatal("write_all has no stats")
	}
	if fs.Calls != 2 || fs.TotalMicros != 300 {
		t.Errorf("stats = %+v", fs)
	}
}

// TestSlowIOCounting verifies the 1 ms slow-I/O threshold applies to I/O
// syscalls only.
func TestSlowIOCounting(t *testing.T) {
	p := New()
	p.Record(rec("write", 5000, writeAll)) // slow I/O
	p.Record(rec("write", 100, writeAll))  // fast I/O
	p.Record(rec("futex", 9000, writeAll)) // slow but not I/O

	fs, _ := p.Stats(model.FunctionKey{File: "io.c", Line: 10, Function: "write_all"})
	if fs.IOSyscallCount != 2 {
		t.Errorf("io count = %d, want 2", fs.IOSyscallCount)
	}
	if fs.SlowIOCount != 1 {
		t.Errorf("slow io count = %d, want 1", fs.SlowIOCount)
	}
}

// TestCalleeEdges verifies caller-callee edges from consecutive user
// frames.
func TestCalleeEdges(t *testing.T) {
	p := New()
	p.Record(rec("write", 10, writeAll, mainFn))
	p.Record(rec("write", 10, writeAll, mainFn))
	p.Record(rec("read", 10, writeAll)) // no parent frame

	fs, _ := p.Stats(model.FunctionKey{File: "io.c", Line: 10, Function: "write_all"})
	parent := model.FunctionKey{File: "main.c", Line: 55, Function: "main"}
	if fs.Callees[parent] != 2 {
		t.Errorf("edge count = %d, want 2", fs.Callees[parent])
	}
}

// TestHotPathPercentagesAgainstTrackedTime verifies the ranking divides
// by the sum of tracked durations, not wall clock.
func TestHotPathPercentagesAgainstTrackedTime(t *testing.T) {
	p := New()
	p.Record(rec("write", 750, writeAll))
	p.Record(rec("read", 250, mainFn))

	paths := p.HotPaths(10)
	if len(paths) != 2 {
		t.Fatalf("got %d paths", len(paths))
	}
	if paths[0].Key.Function != "write_all" || paths[0].TimePct != 75 {
		t.Errorf("top path = %+v", paths[0])
	}
	var sum float64
	for _, hp := range paths {
		sum += hp.TimePct
	}
	if sum < 99.9 || sum > 100.1 {
		t.Errorf("percentages sum to %v", sum)
	}
}

// TestFoldedStacksRootFirst verifies the flamegraph export format.
func TestFoldedStacksRootFirst(t *testing.T) {
	p := New()
	p.Record(rec("write", 10, writeAll, mainFn))
	p.Record(rec("write", 10, writeAll, mainFn))
	p.Record(rec("read", 10, mainFn))

	var buf bytes.Buffer
	if err := p.WriteFolded(&buf); err != nil {
		t.Fatalf("WriteFolded: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "main;write_all 2\n") {
		t.Errorf("folded output missing root-first chain:\n%s", out)
	}
	if !strings.Contains(out, "main 1\n") {
		t.Errorf("folded output missing single-frame stack:\n%s", out)
	}
}

// TestRecordsWithoutFramesSkipped verifies unattributed records do not
// pollute the aggregates.
func TestRecordsWithoutFramesSkipped(t *testing.T) {
	p := New()
	p.Record(rec("write", 100))
	if got := p.HotPaths(10); len(got) != 0 {
		t.Errorf("frameless record produced %d paths", len(got))
	}
}
