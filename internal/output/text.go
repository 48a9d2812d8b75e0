package output

import (
	"fmt"
	"io"

	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/stats"
)

// Text is the default strace-like formatter: one syscall per line,
// arguments parenthesized, result after `=`, optional timing and source
// annotations.
type Text struct {
	w    io.Writer
	opts Options
	rows []stats.Row
}

// NewText returns the text formatter.
func NewText(w io.Writer, opts Options) *Text {
	return &Text{w: w, opts: opts}
}

// Record writes one line.
func (t *Text) Record(rec *model.SyscallRecord) error {
	line := fmt.Sprintf("%s(%s) = %s", rec.Name, joinArgs(rec), formatResult(rec))
	if t.opts.Timing {
		sec := rec.Duration().Seconds()
		line += fmt.Sprintf(" <%d.%06d>", int64(sec), int64((sec-float64(int64(sec)))*1e6))
	}
	if t.opts.Source && rec.Source != nil {
		line += fmt.Sprintf(" [%s:%d in %s]", rec.Source.File, rec.Source.Line, rec.Source.Function)
	}
	_, err := fmt.Fprintln(t.w, line)
	return err
}

// SetSummary stores the stats rows for End.
func (t *Text) SetSummary(rows []stats.Row) {
	t.rows = rows
}

// End renders the summary table when one was provided.
func (t *Text) End() error {
	if t.rows == nil {
		return nil
	}
	tracker := rowsWriter(t.rows)
	return tracker.write(t.w)
}

// rowsWriter renders pre-computed rows in the strace layout without
// re-aggregating.
type rowsWriter []stats.Row

func (rows rowsWriter) write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%% time     seconds  usecs/call     calls    errors syscall\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "------ ----------- ----------- --------- --------- ----------------\n"); err != nil {
		return err
	}
	var totSeconds float64
	var totCalls, totErrors uint64
	for _, r := range rows {
		errField := "         "
		if r.Errors > 0 {
			errField = fmt.Sprintf("%9d", r.Errors)
		}
		if _, err := fmt.Fprintf(w, "%6.2f %11.6f %11.0f %9d %s %s\n",
			r.TimePct, r.Seconds, r.UsecsPerCall, r.Calls, errField, r.Syscall); err != nil {
			return err
		}
		totSeconds += r.Seconds
		totCalls += r.Calls
		totErrors += r.Errors
	}
	if _, err := fmt.Fprintf(w, "------ ----------- ----------- --------- --------- ----------------\n"); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "100.00 %11.6f             %9d %9d total\n", totSeconds, totCalls, totErrors)
	return err
}
