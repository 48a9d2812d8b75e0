//go:build linux

package tracer

import (
	"bytes"
	"fmt"

	"github.com/paiml/renacer/internal/diag"
	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/sys"
)

// decisionProbe is how many bytes of a write buffer are read to test for
// a decision marker before committing to a full capture read.
const decisionProbe = 16

// decisionCaptureMax bounds a decision-line capture read.
const decisionCaptureMax = 4096

var decisionMarkers = [][]byte{[]byte("[DECISION]"), []byte("[RESULT]")}

// decode fills the record's name and decoded-argument view from the
// syscall table, reading tracee memory for path- and buffer-shaped
// arguments. A failed memory read degrades that argument to a hex
// address; it never drops the record.
func decode(rec *model.SyscallRecord, mem Memory, decisionSink func(*model.SyscallRecord, []byte)) {
	sc := sys.Lookup(rec.Number)
	rec.Name = sc.Name
	rec.Decoded = make([]string, len(sc.Args))

	for i, kind := range sc.Args {
		val := rec.Args[i]
		switch kind {
		case sys.ArgInt:
			rec.Decoded[i] = fmt.Sprintf("%d", int64(val))
		case sys.ArgUint, sys.ArgLen:
			rec.Decoded[i] = fmt.Sprintf("%d", val)
		case sys.ArgFd:
			rec.Decoded[i] = fmt.Sprintf("%d", int32(val))
		case sys.ArgMode:
			rec.Decoded[i] = fmt.Sprintf("0%o", val)
		case sys.ArgFlags:
			rec.Decoded[i] = fmt.Sprintf("%#x", val)
		case sys.ArgSignal:
			rec.Decoded[i] = fmt.Sprintf("%d", val)
		case sys.ArgPtr:
			rec.Decoded[i] = formatPtr(val)
		case sys.ArgPath:
			rec.Decoded[i] = decodePath(rec, mem, val)
		case sys.ArgBuf:
			rec.Decoded[i] = decodeBuf(rec, mem, sc.Args, i)
		}
	}

	if decisionSink != nil && rec.Name == "write" {
		tapDecision(rec, mem, decisionSink)
	}
}

func formatPtr(val uint64) string {
	if val == 0 {
		return "NULL"
	}
	return fmt.Sprintf("%#x", val)
}

func decodePath(rec *model.SyscallRecord, mem Memory, addr uint64) string {
	if mem == nil || addr == 0 {
		return formatPtr(addr)
	}
	s, err := mem.ReadCString(addr)
	if err != nil {
		diag.Errorf(diag.KindMemoryRead, "pid %d: %s path argument: %v", rec.PID, rec.Name, err)
		return formatPtr(addr)
	}
	return fmt.Sprintf("%q", s)
}

// decodeBuf renders a buffer-shaped argument. The byte count comes from
// the following ArgLen argument; for calls that return a byte count
// (read, recvfrom, ...) the snippet is clipped to the actual result so
// uninitialized tail bytes are never shown.
func decodeBuf(rec *model.SyscallRecord, mem Memory, shape []sys.ArgKind, i int) string {
	addr := rec.Args[i]
	var n uint64
	if i+1 < len(shape) && shape[i+1] == sys.ArgLen {
		n = rec.Args[i+1]
	}
	if rec.Result >= 0 && uint64(rec.Result) < n {
		n = uint64(rec.Result)
	}
	if mem == nil || addr == 0 || n == 0 {
		return formatPtr(addr)
	}
	s, err := mem.Snippet(addr, n)
	if err != nil {
		diag.Errorf(diag.KindMemoryRead, "pid %d: %s buffer argument: %v", rec.PID, rec.Name, err)
		return formatPtr(addr)
	}
	return s
}

// tapDecision checks a write buffer for a decision marker and, when one
// is present, hands the raw bytes to the sink. The probe read keeps the
// common case (ordinary writes) to one small peek.
func tapDecision(rec *model.SyscallRecord, mem Memory, sink func(*model.SyscallRecord, []byte)) {
	addr, count := rec.Args[1], rec.Args[2]
	if mem == nil || addr == 0 || count == 0 {
		return
	}
	probeLen := int(count)
	if probeLen > decisionProbe {
		probeLen = decisionProbe
	}
	probe, err := mem.ReadBytes(addr, probeLen)
	if err != nil {
		return
	}
	marked := false
	for _, marker := range decisionMarkers {
		if bytes.HasPrefix(probe, marker) {
			marked = true
			break
		}
	}
	if !marked {
		return
	}
	full := int(count)
	if full > decisionCaptureMax {
		full = decisionCaptureMax
	}
	buf, err := mem.ReadBytes(addr, full)
	if err != nil {
		diag.Errorf(diag.KindMemoryRead, "pid %d: decision buffer: %v", rec.PID, err)
		return
	}
	sink(rec, buf)
}
