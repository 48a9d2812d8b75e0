// Package dwarfidx maps instruction addresses back to source locations.
// It loads the target binary's `.debug_line` and `.debug_info` sections
// once, builds sorted lookup tables, and is immutable afterwards, so
// lookups are lock-free O(log n).
//
// Interface contract: Load(path) -> *Index; Index.Lookup(addr) ->
// (SourceLocation, ok). Addresses with no mapping (libc, ld.so, stripped
// code) simply miss; callers degrade gracefully.
package dwarfidx

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/paiml/renacer/internal/model"
)

type lineEntry struct {
	addr uint64
	file string
	line int
}

type funcEntry struct {
	low  uint64
	high uint64
	name string
}

// Index is the addr -> {file, line, function} lookup for one binary.
type Index struct {
	lines []lineEntry // sorted by addr
	funcs []funcEntry // sorted by low
	bias  uint64
}

// Load opens the binary at path and builds the index. A binary without
// debug info yields an error; the caller disables source correlation for
// that binary and continues.
func Load(path string) (*Index, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dw, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("no debug info in %s: %w", path, err)
	}

	ix := &Index{}
	if err := ix.loadLines(dw); err != nil {
		return nil, fmt.Errorf("line table of %s: %w", path, err)
	}
	if err := ix.loadFuncs(dw); err != nil {
		return nil, fmt.Errorf("function table of %s: %w", path, err)
	}
	if len(ix.lines) == 0 {
		return nil, fmt.Errorf("empty line table in %s", path)
	}

	sort.Slice(ix.lines, func(i, j int) bool { return ix.lines[i].addr < ix.lines[j].addr })
	sort.Slice(ix.funcs, func(i, j int) bool { return ix.funcs[i].low < ix.funcs[j].low })
	return ix, nil
}

func (ix *Index) loadLines(dw *dwarf.Data) error {
	r := dw.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := dw.LineReader(cu)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			if err := lr.Next(&le); err != nil {
				break
			}
			if le.EndSequence || le.File == nil {
				continue
			}
			ix.lines = append(ix.lines, lineEntry{
				addr: le.Address,
				file: le.File.Name,
				line: le.Line,
			})
		}
	}
	return nil
}

func (ix *Index) loadFuncs(dw *dwarf.Data) error {
	r := dw.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagSubprogram {
			continue
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		low, ok := e.Val(dwarf.AttrLowpc).(uint64)
		if name == "" || !ok {
			continue
		}
		var high uint64
		switch v := e.Val(dwarf.AttrHighpc).(type) {
		case uint64:
			// DWARF 4+: highpc of class constant is an offset from lowpc
			if v < low {
				high = low + v
			} else {
				high = v
			}
		case int64:
			high = low + uint64(v)
		default:
			continue
		}
		ix.funcs = append(ix.funcs, funcEntry{low: low, high: high, name: name})
	}
	return nil
}

// SetBias records the load bias for position-independent binaries; lookup
// addresses have the bias subtracted before consulting the tables.
func (ix *Index) SetBias(bias uint64) {
	ix.bias = bias
}

// Lookup maps an instruction address to its source location. The second
// return is false when the address falls outside the line table.
func (ix *Index) Lookup(addr uint64) (model.SourceLocation, bool) {
	addr -= ix.bias
	if len(ix.lines) == 0 || addr < ix.lines[0].addr {
		return model.SourceLocation{}, false
	}
	// last entry with entry.addr <= addr
	i := sort.Search(len(ix.lines), func(i int) bool { return ix.lines[i].addr > addr }) - 1
	if i < 0 {
		return model.SourceLocation{}, false
	}
	le := ix.lines[i]

	loc := model.SourceLocation{
		File: le.file,
		Line: le.line,
	}
	if fn, ok := ix.function(addr); ok {
		loc.Function = fn
	} else {
		// address past the last known function means the line entry was a
		// table tail, not a real mapping
		if i == len(ix.lines)-1 {
			return model.SourceLocation{}, false
		}
	}
	return loc, true
}

func (ix *Index) function(addr uint64) (string, bool) {
	i := sort.Search(len(ix.funcs), func(i int) bool { return ix.funcs[i].low > addr }) - 1
	if i < 0 {
		return "", false
	}
	fe := ix.funcs[i]
	if addr >= fe.low && addr < fe.high {
		return fe.name, true
	}
	return "", false
}

// systemPathMarkers identify source files that belong to the toolchain or
// system libraries rather than user code.
var systemPathMarkers = []string{
	"/usr/", "/lib/", "/lib64/", "glibc", "sysdeps", "libgcc",
	"crt1", "crti", "<built-in>", "musl",
}

// IsSystemPath reports whether a source file path belongs to a system
// library. The unwinder skips frames that resolve into these.
func IsSystemPath(file string) bool {
	for _, marker := range systemPathMarkers {
		if strings.Contains(file, marker) {
			return true
		}
	}
	return false
}

// LookupUser maps addr to a source location only when it resolves to user
// code (not a system library path).
func (ix *Index) LookupUser(addr uint64) (model.SourceLocation, bool) {
	loc, ok := ix.Lookup(addr)
	if !ok || IsSystemPath(loc.File) {
		return model.SourceLocation{}, false
	}
	return loc, true
}
