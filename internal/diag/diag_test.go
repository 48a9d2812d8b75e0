package diag

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

// TestLineFormat verifies the mandated `[renacer: <kind>: <detail>]` shape.
func TestLineFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Errorf(KindMemoryRead, "read at 0x%x failed", 0xdeadbeef)

	got := buf.String()
	want := "[renacer: memory-read: read at 0xdeadbeef failed]\n"
	if got != want {
		t.Errorf("diagnostic = %q, want %q", got, want)
	}
}

// TestQuietSuppressesInfoOnly verifies that quiet mode drops progress
// lines but never error diagnostics.
func TestQuietSuppressesInfoOnly(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetQuiet(true)
	defer SetQuiet(false)

	Infof("starting up")
	Errorf(KindExporter, "endpoint unreachable")

	got := buf.String()
	if strings.Contains(got, "starting up") {
		t.Error("quiet mode must suppress Infof")
	}
	if !strings.Contains(got, "[renacer: exporter: endpoint unreachable]") {
		t.Error("quiet mode must not suppress Errorf")
	}
}

// TestOnceEmitsSingleLine verifies the emit-once helper used for exporter
// and DWARF failures.
func TestOnceEmitsSingleLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	warn := Once(KindDWARF)
	warn("no debug info in %s", "/bin/true")
	warn("no debug info in %s", "/bin/true")

	if n := strings.Count(buf.String(), "[renacer: dwarf:"); n != 1 {
		t.Errorf("Once emitted %d lines, want 1", n)
	}
}
