package output

import (
	"fmt"
	"html"
	"io"

	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/stats"
)

// HTML buffers records and emits one self-contained document at End:
// embedded CSS, no external resources. Every string that originated in
// tracee memory passes through html escaping before it reaches the page.
type HTML struct {
	w    io.Writer
	opts Options
	recs []*model.SyscallRecord
	rows []stats.Row
}

// NewHTML returns the HTML formatter.
func NewHTML(w io.Writer, opts Options) *HTML {
	return &HTML{w: w, opts: opts}
}

// Record buffers one record.
func (h *HTML) Record(rec *model.SyscallRecord) error {
	h.recs = append(h.recs, rec)
	return nil
}

// SetSummary stores the stats rows for the second table.
func (h *HTML) SetSummary(rows []stats.Row) {
	h.rows = rows
}

const htmlHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>renacer trace</title>
<style>
body { font-family: monospace; margin: 1.5rem; background: #fdfdfd; color: #222; }
table { border-collapse: collapse; margin-bottom: 2rem; }
th, td { border: 1px solid #ccc; padding: 0.25rem 0.6rem; text-align: left; }
th { background: #efefef; }
tr.err td { background: #fde8e8; }
td.num { text-align: right; }
</style>
</head>
<body>
`

// End writes the document.
func (h *HTML) End() error {
	if _, err := io.WriteString(h.w, htmlHead); err != nil {
		return err
	}

	if _, err := io.WriteString(h.w, "<h1>Syscalls</h1>\n<table>\n<tr><th>pid</th><th>syscall</th><th>arguments</th><th>result</th>"); err != nil {
		return err
	}
	if h.opts.Timing {
		if _, err := io.WriteString(h.w, "<th>duration (µs)</th>"); err != nil {
			return err
		}
	}
	if h.opts.Source {
		if _, err := io.WriteString(h.w, "<th>source</th>"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(h.w, "</tr>\n"); err != nil {
		return err
	}

	for _, rec := range h.recs {
		class := ""
		if rec.Failed() {
			class = ` class="err"`
		}
		if _, err := fmt.Fprintf(h.w, "<tr%s><td class=\"num\">%d</td><td>%s</td><td>%s</td><td class=\"num\">%s</td>",
			class, rec.PID, html.EscapeString(rec.Name),
			html.EscapeString(joinArgs(rec)), html.EscapeString(formatResult(rec))); err != nil {
			return err
		}
		if h.opts.Timing {
			if _, err := fmt.Fprintf(h.w, "<td class=\"num\">%.1f</td>", rec.DurationMicros()); err != nil {
				return err
			}
		}
		if h.opts.Source {
			src := ""
			if rec.Source != nil {
				src = fmt.Sprintf("%s:%d in %s", rec.Source.File, rec.Source.Line, rec.Source.Function)
			}
			if _, err := fmt.Fprintf(h.w, "<td>%s</td>", html.EscapeString(src)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(h.w, "</tr>\n"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(h.w, "</table>\n"); err != nil {
		return err
	}

	if h.rows != nil {
		if _, err := io.WriteString(h.w, "<h1>Statistics</h1>\n<table>\n<tr><th>% time</th><th>seconds</th><th>usecs/call</th><th>calls</th><th>errors</th><th>syscall</th></tr>\n"); err != nil {
			return err
		}
		for _, r := range h.rows {
			if _, err := fmt.Fprintf(h.w,
				"<tr><td class=\"num\">%.2f</td><td class=\"num\">%.6f</td><td class=\"num\">%.0f</td><td class=\"num\">%d</td><td class=\"num\">%d</td><td>%s</td></tr>\n",
				r.TimePct, r.Seconds, r.UsecsPerCall, r.Calls, r.Errors,
				html.EscapeString(r.Syscall)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(h.w, "</table>\n"); err != nil {
			return err
		}
	}

	_, err := io.WriteString(h.w, "</body>\n</html>\n")
	return err
}
