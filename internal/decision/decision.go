// Package decision ingests `[DECISION]` and `[RESULT]` lines written by
// an instrumented tracee, assigns content-addressed 64-bit identifiers,
// and persists the session's decisions either as OTLP span events or as
// a MessagePack sidecar with a JSON manifest.
package decision

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/paiml/renacer/internal/model"
)

// Marker values.
const (
	MarkerDecision = "[DECISION]"
	MarkerResult   = "[RESULT]"
)

// Decision is one parsed line.
type Decision struct {
	Marker   string `json:"marker" msgpack:"marker"`
	Category string `json:"category" msgpack:"category"`
	Name     string `json:"name" msgpack:"name"`
	Input    string `json:"input,omitempty" msgpack:"input,omitempty"`
	Result   string `json:"result,omitempty" msgpack:"result,omitempty"`

	// File/Line locate the emitting write in user code when source
	// correlation resolved it; they feed the content address.
	File string `json:"file,omitempty" msgpack:"file,omitempty"`
	Line int    `json:"line,omitempty" msgpack:"line,omitempty"`

	// TimestampMicros is the engine timestamp of the emitting write.
	TimestampMicros uint64 `json:"timestamp_us" msgpack:"timestamp_us"`

	// ID is the content-addressed identifier: a 64-bit non-cryptographic
	// hash of category::name::file:line, for deduplication and compact
	// referencing.
	ID uint64 `json:"id" msgpack:"id"`
}

// contentAddress computes the deduplication hash.
func contentAddress(category, name, file string, line int) uint64 {
	var sb strings.Builder
	sb.WriteString(category)
	sb.WriteString("::")
	sb.WriteString(name)
	sb.WriteString("::")
	sb.WriteString(file)
	sb.WriteString(":")
	sb.WriteString(strconv.Itoa(line))
	return xxhash.Sum64String(sb.String())
}

// ParseLine parses one decision line of the shape
//
//	[DECISION] category::name input=<json> result=<json>
//	[RESULT] category::name result=<json>
//
// Returns ok=false for lines that carry a marker but not the shape; the
// caller logs and continues.
func ParseLine(line string) (Decision, bool) {
	var d Decision
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(line, MarkerDecision):
		d.Marker = MarkerDecision
		line = strings.TrimSpace(line[len(MarkerDecision):])
	case strings.HasPrefix(line, MarkerResult):
		d.Marker = MarkerResult
		line = strings.TrimSpace(line[len(MarkerResult):])
	default:
		return d, false
	}

	// category::name is the first whitespace-delimited token
	ident := line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		ident = line[:i]
		line = strings.TrimSpace(line[i+1:])
	} else {
		line = ""
	}
	catName := strings.SplitN(ident, "::", 2)
	if len(catName) != 2 || catName[0] == "" || catName[1] == "" {
		return d, false
	}
	d.Category, d.Name = catName[0], catName[1]

	// input= and result= carry JSON values; result= terminates the line,
	// input= runs until " result=" when both are present
	if i := strings.Index(line, "input="); i >= 0 {
		rest := line[i+len("input="):]
		if j := strings.Index(rest, " result="); j >= 0 {
			d.Input = strings.TrimSpace(rest[:j])
		} else {
			d.Input = strings.TrimSpace(rest)
		}
	}
	if i := strings.Index(line, "result="); i >= 0 {
		d.Result = strings.TrimSpace(line[i+len("result="):])
	}

	return d, true
}

// Collector accumulates the session's decisions in emission order.
type Collector struct {
	decisions []Decision
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Ingest splits a captured write buffer into lines and parses each
// marked line. rec supplies the source attribution and timestamp.
func (c *Collector) Ingest(rec *model.SyscallRecord, buf []byte) {
	for _, line := range strings.Split(string(buf), "\n") {
		if line == "" {
			continue
		}
		d, ok := ParseLine(line)
		if !ok {
			continue
		}
		if rec != nil {
			d.TimestampMicros = rec.EntryTime / 1000
			if rec.Source != nil {
				d.File = rec.Source.File
				d.Line = rec.Source.Line
			}
		}
		d.ID = contentAddress(d.Category, d.Name, d.File, d.Line)
		c.decisions = append(c.decisions, d)
	}
}

// Decisions returns the captured decisions in emission order.
func (c *Collector) Decisions() []Decision {
	return c.decisions
}
