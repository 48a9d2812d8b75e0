package output

import (
	"encoding/json"
	"io"

	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/stats"
)

// SchemaTag identifies the JSON document layout.
const SchemaTag = "renacer-json-v1"

// JSON buffers records and emits a single top-level document at End.
type JSON struct {
	w    io.Writer
	opts Options
	doc  jsonDoc
}

type jsonDoc struct {
	Schema   string       `json:"schema"`
	Syscalls []jsonRecord `json:"syscalls"`
	Summary  *jsonSummary `json:"summary"`
}

type jsonRecord struct {
	Name       string                `json:"name"`
	Args       []string              `json:"args"`
	Result     int64                 `json:"result"`
	DurationUS *float64              `json:"duration_us,omitempty"`
	Source     *model.SourceLocation `json:"source,omitempty"`
	PID        int                   `json:"pid"`
}

type jsonSummary struct {
	TotalCalls  uint64                `json:"total_calls"`
	TotalErrors uint64                `json:"total_errors"`
	Syscalls    map[string]jsonBucket `json:"syscalls"`
}

type jsonBucket struct {
	Calls   uint64  `json:"calls"`
	Errors  uint64  `json:"errors"`
	Seconds float64 `json:"seconds"`
	TimePct float64 `json:"time_pct"`
}

// NewJSON returns the JSON formatter.
func NewJSON(w io.Writer, opts Options) *JSON {
	return &JSON{
		w:    w,
		opts: opts,
		doc: jsonDoc{
			Schema:   SchemaTag,
			Syscalls: []jsonRecord{},
		},
	}
}

// Record buffers one record with its stable keys.
func (j *JSON) Record(rec *model.SyscallRecord) error {
	jr := jsonRecord{
		Name:   rec.Name,
		Args:   rec.Decoded,
		Result: rec.Result,
		PID:    rec.PID,
	}
	if jr.Args == nil {
		jr.Args = []string{}
	}
	if j.opts.Timing {
		d := rec.DurationMicros()
		jr.DurationUS = &d
	}
	if j.opts.Source && rec.Source != nil {
		jr.Source = rec.Source
	}
	j.doc.Syscalls = append(j.doc.Syscalls, jr)
	return nil
}

// SetSummary embeds the per-syscall stats.
func (j *JSON) SetSummary(rows []stats.Row) {
	s := &jsonSummary{Syscalls: make(map[string]jsonBucket, len(rows))}
	for _, r := range rows {
		s.TotalCalls += r.Calls
		s.TotalErrors += r.Errors
		s.Syscalls[r.Syscall] = jsonBucket{
			Calls:   r.Calls,
			Errors:  r.Errors,
			Seconds: r.Seconds,
			TimePct: r.TimePct,
		}
	}
	j.doc.Summary = s
}

// End emits the document.
func (j *JSON) End() error {
	if j.doc.Summary == nil {
		j.doc.Summary = &jsonSummary{Syscalls: map[string]jsonBucket{}}
		for _, r := range j.doc.Syscalls {
			j.doc.Summary.TotalCalls++
			if r.Result < 0 && r.Result >= -4095 {
				j.doc.Summary.TotalErrors++
			}
		}
	}
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(&j.doc)
}
