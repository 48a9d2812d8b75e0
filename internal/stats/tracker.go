// Package stats aggregates admitted syscall records into the per-syscall
// counters behind `-c`, the extended percentile table, and the post-hoc
// anomaly scan. Aggregation is incremental; sorting and percentile work
// happen once at summary time.
package stats

import (
	"fmt"
	"io"
	"sort"

	"github.com/paiml/renacer/internal/model"
)

// entry is the per-syscall aggregate.
type entry struct {
	calls     uint64
	errors    uint64
	durations []float64 // µs, appended only when timing is enabled
}

// Tracker owns the per-syscall aggregates for one trace session.
type Tracker struct {
	timing  bool
	entries map[string]*entry
	total   uint64
}

// NewTracker returns a Tracker. With timing disabled only call and error
// counts are kept.
func NewTracker(timing bool) *Tracker {
	return &Tracker{
		timing:  timing,
		entries: make(map[string]*entry),
	}
}

// Record folds one admitted record into the aggregates.
func (t *Tracker) Record(rec *model.SyscallRecord) {
	e, ok := t.entries[rec.Name]
	if !ok {
		e = &entry{}
		t.entries[rec.Name] = e
	}
	e.calls++
	t.total++
	if rec.Failed() {
		e.errors++
	}
	if t.timing {
		e.durations = append(e.durations, rec.DurationMicros())
	}
}

// TotalCalls returns the number of records folded in.
func (t *Tracker) TotalCalls() uint64 {
	return t.total
}

// Row is one line of the summary table.
type Row struct {
	Syscall      string
	TimePct      float64
	Seconds      float64
	UsecsPerCall float64
	Calls        uint64
	Errors       uint64
}

// Rows returns the summary rows sorted by descending total time (by
// calls when timing is off). TimePct sums to 100 within rounding.
func (t *Tracker) Rows() []Row {
	rows := make([]Row, 0, len(t.entries))
	var totalSeconds float64
	for name, e := range t.entries {
		seconds := Sum(e.durations) / 1e6
		totalSeconds += seconds
		row := Row{
			Syscall: name,
			Seconds: seconds,
			Calls:   e.calls,
			Errors:  e.errors,
		}
		if e.calls > 0 {
			row.UsecsPerCall = seconds * 1e6 / float64(e.calls)
		}
		rows = append(rows, row)
	}
	for i := range rows {
		if totalSeconds > 0 {
			rows[i].TimePct = rows[i].Seconds / totalSeconds * 100
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Seconds != rows[j].Seconds {
			return rows[i].Seconds > rows[j].Seconds
		}
		if rows[i].Calls != rows[j].Calls {
			return rows[i].Calls > rows[j].Calls
		}
		return rows[i].Syscall < rows[j].Syscall
	})
	return rows
}

// ExtendedRow carries the percentile columns of `--stats-extended`.
type ExtendedRow struct {
	Syscall string
	Calls   uint64
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
	P50     float64
	P75     float64
	P90     float64
	P95     float64
	P99     float64
}

// ExtendedRows computes the percentile table, sorted by syscall name.
func (t *Tracker) ExtendedRows() []ExtendedRow {
	var rows []ExtendedRow
	for name, e := range t.entries {
		if len(e.durations) == 0 {
			continue
		}
		lo, hi := MinMax(e.durations)
		ps := Percentiles(e.durations, 50, 75, 90, 95, 99)
		rows = append(rows, ExtendedRow{
			Syscall: name,
			Calls:   e.calls,
			Min:     lo,
			Max:     hi,
			Mean:    Mean(e.durations),
			StdDev:  StdDev(e.durations),
			P50:     ps[0],
			P75:     ps[1],
			P90:     ps[2],
			P95:     ps[3],
			P99:     ps[4],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Syscall < rows[j].Syscall })
	return rows
}

// WriteExtended renders the percentile table.
func (t *Tracker) WriteExtended(w io.Writer) error {
	rows := t.ExtendedRows()
	if len(rows) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "%-16s %9s %9s %9s %9s %9s %9s %9s %9s %9s %9s\n",
		"syscall", "calls", "min", "max", "mean", "stddev", "p50", "p75", "p90", "p95", "p99"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-16s %9d %9.1f %9.1f %9.1f %9.1f %9.1f %9.1f %9.1f %9.1f %9.1f\n",
			r.Syscall, r.Calls, r.Min, r.Max, r.Mean, r.StdDev,
			r.P50, r.P75, r.P90, r.P95, r.P99); err != nil {
			return err
		}
	}
	return nil
}

// Durations exposes one syscall's duration array for the post-hoc scan.
func (t *Tracker) Durations(name string) []float64 {
	if e, ok := t.entries[name]; ok {
		return e.durations
	}
	return nil
}

// Names returns the tracked syscall names, sorted.
func (t *Tracker) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
