// Package unwind walks a stopped tracee's frame-pointer chain to recover
// the user-code frames active at syscall entry. The syscall instruction
// itself sits in libc or the dynamic linker, so the walk keeps following
// saved-rbp links until return addresses start resolving into the user's
// binary.
//
// The walk requires frame pointers in the target; binaries built with
// -fomit-frame-pointer degrade to no attribution, never to a crash.
package unwind

import (
	"github.com/paiml/renacer/internal/model"
)

// MaxDepth bounds the frame walk.
const MaxDepth = 64

// Memory is the slice of the tracee-memory reader the unwinder needs.
type Memory interface {
	ReadWord(addr uint64) (uint64, error)
}

// Resolver maps return addresses to user-code source locations.
type Resolver interface {
	LookupUser(addr uint64) (model.SourceLocation, bool)
}

// UserFrames walks the frame chain rooted at rbp and returns the user-code
// frames found, innermost first. Safety rails: stop at rbp=0, stop on any
// failed or misaligned read, stop when the chain fails to grow upward,
// stop at MaxDepth. An empty result means no attribution.
func UserFrames(mem Memory, resolve Resolver, rbp uint64) []model.SourceLocation {
	var frames []model.SourceLocation
	for depth := 0; depth < MaxDepth; depth++ {
		if rbp == 0 || rbp%8 != 0 {
			break
		}
		saved, err := mem.ReadWord(rbp)
		if err != nil {
			break
		}
		ret, err := mem.ReadWord(rbp + 8)
		if err != nil {
			break
		}
		if loc, ok := resolve.LookupUser(ret); ok {
			frames = append(frames, loc)
		}
		// the chain must grow strictly upward; anything else is a
		// corrupted or cyclic frame
		if saved <= rbp {
			break
		}
		rbp = saved
	}
	return frames
}

// FirstUserFrame returns the innermost user-code frame, the attribution
// target for source correlation and function profiling.
func FirstUserFrame(mem Memory, resolve Resolver, rbp uint64) (model.SourceLocation, bool) {
	frames := UserFrames(mem, resolve, rbp)
	if len(frames) == 0 {
		return model.SourceLocation{}, false
	}
	return frames[0], true
}
