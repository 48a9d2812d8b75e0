// Package profiler attributes syscall time to the user functions that
// issued the calls. Attribution comes from the frame chain unwound once
// per syscall at entry, so the resulting flamegraph is shallow by design:
// each stack is the chain visible at one syscall, not a full call-stack
// sample.
package profiler

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/sys"
)

// slowIOMicros is the threshold above which an I/O syscall counts as a
// slow-I/O hit for its calling function.
const slowIOMicros = 1000

// FuncStats is the per-function aggregate.
type FuncStats struct {
	Calls          uint64
	TotalMicros    float64
	IOSyscallCount uint64
	SlowIOCount    uint64
	Callees        map[model.FunctionKey]uint64
}

// Profiler owns the per-function aggregates and the folded-stack counts.
type Profiler struct {
	funcs  map[model.FunctionKey]*FuncStats
	folded map[string]uint64
}

// New returns an empty Profiler.
func New() *Profiler {
	return &Profiler{
		funcs:  make(map[model.FunctionKey]*FuncStats),
		folded: make(map[string]uint64),
	}
}

// Record attributes one admitted record to its calling function. Records
// without resolved frames are skipped.
func (p *Profiler) Record(rec *model.SyscallRecord) {
	if len(rec.Stack) == 0 {
		return
	}
	caller := keyOf(rec.Stack[0])

	fs, ok := p.funcs[caller]
	if !ok {
		fs = &FuncStats{Callees: make(map[model.FunctionKey]uint64)}
		p.funcs[caller] = fs
	}
	fs.Calls++
	dur := rec.DurationMicros()
	fs.TotalMicros += dur
	if sys.IsIO(rec.Name) {
		fs.IOSyscallCount++
		if dur > slowIOMicros {
			fs.SlowIOCount++
		}
	}

	// caller-callee edge when two consecutive frames are both user code
	if len(rec.Stack) > 1 {
		fs.Callees[keyOf(rec.Stack[1])]++
	}

	p.folded[foldStack(rec.Stack)]++
}

func keyOf(loc model.SourceLocation) model.FunctionKey {
	return model.FunctionKey{File: loc.File, Line: loc.Line, Function: loc.Function}
}

// foldStack renders a frame chain root-first, semicolon-separated, the
// format flamegraph renderers consume.
func foldStack(stack []model.SourceLocation) string {
	names := make([]string, len(stack))
	for i, frame := range stack {
		// innermost first in the record; folded format is root first
		names[len(stack)-1-i] = frame.Function
	}
	return strings.Join(names, ";")
}

// HotPath is one row of the hot-path ranking.
type HotPath struct {
	Key         model.FunctionKey
	Stats       FuncStats
	TimePct     float64 // of the sum of tracked durations, not wall clock
	SlowIOHeavy bool
}

// HotPaths returns the top n functions by total attributed duration.
// Percentages are of the sum of tracked durations so they stay truthful
// under filtering.
func (p *Profiler) HotPaths(n int) []HotPath {
	var total float64
	for _, fs := range p.funcs {
		total += fs.TotalMicros
	}

	paths := make([]HotPath, 0, len(p.funcs))
	for key, fs := range p.funcs {
		hp := HotPath{Key: key, Stats: *fs}
		if total > 0 {
			hp.TimePct = fs.TotalMicros / total * 100
		}
		if fs.Calls > 0 && fs.SlowIOCount > 0 && fs.SlowIOCount*2 >= fs.IOSyscallCount {
			hp.SlowIOHeavy = true
		}
		paths = append(paths, hp)
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Stats.TotalMicros != paths[j].Stats.TotalMicros {
			return paths[i].Stats.TotalMicros > paths[j].Stats.TotalMicros
		}
		return paths[i].Key.Function < paths[j].Key.Function
	})
	if len(paths) > n {
		paths = paths[:n]
	}
	return paths
}

// WriteReport renders the hot-path ranking.
func (p *Profiler) WriteReport(w io.Writer) error {
	paths := p.HotPaths(10)
	if len(paths) == 0 {
		_, err := fmt.Fprintf(w, "No function attributions (no frame pointers or no user frames).\n")
		return err
	}
	if _, err := fmt.Fprintf(w, "Top functions by syscall time:\n"); err != nil {
		return err
	}
	for i, hp := range paths {
		flag := ""
		if hp.SlowIOHeavy {
			flag = "  [slow I/O]"
		}
		if _, err := fmt.Fprintf(w, "  %2d. %5.1f%%  %-30s %s:%d  calls=%d io=%d%s\n",
			i+1, hp.TimePct, hp.Key.Function, hp.Key.File, hp.Key.Line,
			hp.Stats.Calls, hp.Stats.IOSyscallCount, flag); err != nil {
			return err
		}
	}
	return nil
}

// WriteFolded emits the folded-stack export: one `f1;f2;...;fN count`
// line per unique chain, sorted for stable output.
func (p *Profiler) WriteFolded(w io.Writer) error {
	stacks := make([]string, 0, len(p.folded))
	for s := range p.folded {
		stacks = append(stacks, s)
	}
	sort.Strings(stacks)
	for _, s := range stacks {
		if _, err := fmt.Fprintf(w, "%s %d\n", s, p.folded[s]); err != nil {
			return err
		}
	}
	return nil
}

// Stats exposes one function's aggregate, for tests and the orchestrator.
func (p *Profiler) Stats(key model.FunctionKey) (FuncStats, bool) {
	fs, ok := p.funcs[key]
	if !ok {
		return FuncStats{}, false
	}
	return *fs, true
}
