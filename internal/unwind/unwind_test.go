package unwind

import (
	"errors"
	"testing"

	"github.com/paiml/renacer/internal/model"
)

// fakeMemory serves 8-byte words from a map, mimicking a tracee stack.
type fakeMemory struct {
	words map[uint64]uint64
}

func (m fakeMemory) ReadWord(addr uint64) (uint64, error) {
	if addr == 0 || addr%8 != 0 {
		return 0, errors.New("misaligned")
	}
	w, ok := m.words[addr]
	if !ok {
		return 0, errors.New("unmapped")
	}
	return w, nil
}

// fakeResolver marks a configured set of return addresses as user code.
type fakeResolver struct {
	user map[uint64]model.SourceLocation
}

func (r fakeResolver) LookupUser(addr uint64) (model.SourceLocation, bool) {
	loc, ok := r.user[addr]
	return loc, ok
}

// stack builds a frame chain: each frame is [saved-rbp, return-addr].
func stack(frames ...[2]uint64) fakeMemory {
	m := fakeMemory{words: make(map[uint64]uint64)}
	rbp := uint64(0x7fff0000)
	for _, fr := range frames {
		m.words[rbp] = fr[0]
		m.words[rbp+8] = fr[1]
		rbp = fr[0]
	}
	return m
}

// TestSkipsLibcFramesFindsUser verifies the core behavior: the walk skips
// frames whose return addresses do not resolve to user code and reports
// the first that does.
func TestSkipsLibcFramesFindsUser(t *testing.T) {
	// frame 0: libc write wrapper; frame 1: user function
	mem := stack(
		[2]uint64{0x7fff0100, 0xdeadbeef}, // libc, unresolved
		[2]uint64{0x7fff0200, 0x401130},   // user main
	)
	res := fakeResolver{user: map[uint64]model.SourceLocation{
		0x401130: {File: "main.c", Line: 42, Function: "main"},
	}}

	loc, ok := FirstUserFrame(mem, res, 0x7fff0000)
	if !ok {
		t.Fatal("expected a user frame")
	}
	if loc.Function != "main" || loc.Line != 42 {
		t.Errorf("frame = %+v", loc)
	}
}

// TestCollectsFullUserChain verifies multiple consecutive user frames come
// back innermost first, which the profiler needs for caller-callee edges.
func TestCollectsFullUserChain(t *testing.T) {
	mem := stack(
		[2]uint64{0x7fff0100, 0x401200}, // inner user fn
		[2]uint64{0x7fff0200, 0x401300}, // its caller
		[2]uint64{0, 0x401400},          // chain terminator
	)
	res := fakeResolver{user: map[uint64]model.SourceLocation{
		0x401200: {File: "io.c", Line: 10, Function: "write_all"},
		0x401300: {File: "main.c", Line: 55, Function: "main"},
	}}

	frames := UserFrames(mem, res, 0x7fff0000)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Function != "write_all" || frames[1].Function != "main" {
		t.Errorf("frames = %+v", frames)
	}
}

// TestStopsOnZeroRbp verifies the rbp=0 rail.
func TestStopsOnZeroRbp(t *testing.T) {
	mem := fakeMemory{words: map[uint64]uint64{}}
	res := fakeResolver{}
	if frames := UserFrames(mem, res, 0); frames != nil {
		t.Errorf("walk from rbp=0 returned %v", frames)
	}
}

// TestStopsOnReadFailure verifies a failed memory read ends the walk
// without error.
func TestStopsOnReadFailure(t *testing.T) {
	mem := fakeMemory{words: map[uint64]uint64{0x7fff0000: 0x7fff0100}} // no ret addr
	res := fakeResolver{}
	if frames := UserFrames(mem, res, 0x7fff0000); frames != nil {
		t.Errorf("walk over unmapped memory returned %v", frames)
	}
}

// TestStopsOnCyclicChain verifies the strictly-upward rail breaks loops.
func TestStopsOnCyclicChain(t *testing.T) {
	mem := fakeMemory{words: map[uint64]uint64{
		0x7fff0000: 0x7fff0000, // frame points at itself
		0x7fff0008: 0x401130,
	}}
	res := fakeResolver{user: map[uint64]model.SourceLocation{
		0x401130: {Function: "main"},
	}}
	frames := UserFrames(mem, res, 0x7fff0000)
	if len(frames) != 1 {
		t.Errorf("cyclic chain produced %d frames, want 1", len(frames))
	}
}

// TestMaxDepthBound verifies the walk terminates on an adversarially long
// chain with no user frames.
func TestMaxDepthBound(t *testing.T) {
	m := fakeMemory{words: make(map[uint64]uint64)}
	rbp := uint64(0x10000)
	for i := 0; i < 1000; i++ {
		m.words[rbp] = rbp + 16
		m.words[rbp+8] = 0x1 // never resolves
		rbp += 16
	}
	if frames := UserFrames(m, fakeResolver{}, 0x10000); frames != nil {
		t.Errorf("deep chain returned %v", frames)
	}
}
