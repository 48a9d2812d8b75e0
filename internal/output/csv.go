package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/stats"
)

// CSV renders one record per row with RFC 4180 escaping (delegated to
// encoding/csv: quotes doubled, commas/quotes/newlines trigger quoting).
type CSV struct {
	w      *csv.Writer
	opts   Options
	header bool
}

// NewCSV returns the CSV formatter.
func NewCSV(w io.Writer, opts Options) *CSV {
	return &CSV{w: csv.NewWriter(w), opts: opts}
}

// Record writes the header on first use, then one row.
func (c *CSV) Record(rec *model.SyscallRecord) error {
	if !c.header {
		if err := c.w.Write([]string{
			"pid", "syscall", "args", "result", "duration_us",
			"file", "line", "function",
		}); err != nil {
			return err
		}
		c.header = true
	}

	row := []string{
		fmt.Sprintf("%d", rec.PID),
		rec.Name,
		strings.Join(rec.Decoded, ", "),
		fmt.Sprintf("%d", rec.Result),
	}
	if c.opts.Timing {
		row = append(row, fmt.Sprintf("%.3f", rec.DurationMicros()))
	} else {
		row = append(row, "")
	}
	if c.opts.Source && rec.Source != nil {
		row = append(row, rec.Source.File, fmt.Sprintf("%d", rec.Source.Line), rec.Source.Function)
	} else {
		row = append(row, "", "", "")
	}
	return c.w.Write(row)
}

// SetSummary is a no-op: the CSV format carries only the record stream.
func (c *CSV) SetSummary([]stats.Row) {}

// End flushes buffered rows.
func (c *CSV) End() error {
	c.w.Flush()
	return c.w.Error()
}
