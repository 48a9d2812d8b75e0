// Package output renders the admitted record stream as text, JSON, CSV,
// or HTML. Formatters receive records incrementally and finish with End,
// which is where the single-document formats (JSON, HTML) emit.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/stats"
	"github.com/paiml/renacer/internal/sys"
)

// Formatter is the incremental rendering interface shared by all output
// formats.
type Formatter interface {
	// Record renders (or buffers) one admitted record.
	Record(rec *model.SyscallRecord) error
	// SetSummary provides the per-syscall stats rows for formats that
	// embed a summary section. Called before End when stats are enabled.
	SetSummary(rows []stats.Row)
	// End flushes the document.
	End() error
}

// Options selects the optional per-record annotations.
type Options struct {
	Timing bool
	Source bool
}

// New returns the formatter for a format name: "text", "json", "csv" or
// "html".
func New(format string, w io.Writer, opts Options) (Formatter, error) {
	switch format {
	case "", "text":
		return NewText(w, opts), nil
	case "json":
		return NewJSON(w, opts), nil
	case "csv":
		return NewCSV(w, opts), nil
	case "html":
		return NewHTML(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// formatResult renders a return value: plain decimal on success, the
// negated errno name on failure (symbolic when known).
func formatResult(rec *model.SyscallRecord) string {
	if rec.Failed() {
		return "-" + sys.ErrnoName(rec.Errno())
	}
	return fmt.Sprintf("%d", rec.Result)
}

// joinArgs renders the decoded argument view comma-separated; callers add
// any surrounding parentheses.
func joinArgs(rec *model.SyscallRecord) string {
	return strings.Join(rec.Decoded, ", ")
}
