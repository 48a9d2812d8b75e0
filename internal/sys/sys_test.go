package sys

import (
	"strings"
	"testing"
)

// TestLookupKnownSyscalls spot-checks canonical names and shapes.
func TestLookupKnownSyscalls(t *testing.T) {
	cases := map[uint64]string{
		0:   "read",
		1:   "write",
		57:  "fork",
		59:  "execve",
		231: "exit_group",
		257: "openat",
	}
	for number, name := range cases {
		if got := Name(number); got != name {
			t.Errorf("Name(%d) = %q, want %q", number, got, name)
		}
	}

	write := Lookup(1)
	if len(write.Args) != 3 || write.Args[0] != ArgFd || write.Args[1] != ArgBuf || write.Args[2] != ArgLen {
		t.Errorf("write shape = %v", write.Args)
	}
	openat := Lookup(257)
	if openat.Args[1] != ArgPath {
		t.Errorf("openat arg 1 = %v, want ArgPath", openat.Args[1])
	}
}

// TestLookupUnknownSynthesizes verifies the syscall_NNN fallback.
func TestLookupUnknownSynthesizes(t *testing.T) {
	sc := Lookup(9999)
	if sc.Name != "syscall_9999" {
		t.Errorf("Name = %q", sc.Name)
	}
	if len(sc.Args) != 6 {
		t.Errorf("fallback shape has %d args, want 6", len(sc.Args))
	}
}

// TestClassesContainCanonicalMembers verifies the filter classes cover
// their headline syscalls and that socket does not leak into the file
// class.
func TestClassesContainCanonicalMembers(t *testing.T) {
	contains := func(class, name string) bool {
		for _, n := range Classes[class] {
			if n == name {
				return true
			}
		}
		return false
	}
	for class, member := range map[string]string{
		"file":    "write",
		"network": "connect",
		"socket":  "socket",
		"process": "execve",
		"memory":  "mmap",
	} {
		if !contains(class, member) {
			t.Errorf("class %q missing %q", class, member)
		}
	}
	if contains("file", "socket") {
		t.Error("socket leaked into the file class")
	}
}

// TestIsIO verifies the profiler's I/O set.
func TestIsIO(t *testing.T) {
	for _, name := range []string{"read", "write", "sendto", "fsync"} {
		if !IsIO(name) {
			t.Errorf("IsIO(%q) = false", name)
		}
	}
	for _, name := range []string{"futex", "mmap", "getpid"} {
		if IsIO(name) {
			t.Errorf("IsIO(%q) = true", name)
		}
	}
}

// TestErrnoName verifies symbolic and numeric fallbacks.
func TestErrnoName(t *testing.T) {
	if got := ErrnoName(2); got != "ENOENT" {
		t.Errorf("ErrnoName(2) = %q", got)
	}
	if got := ErrnoName(4000); !strings.HasPrefix(got, "ERRNO_") {
		t.Errorf("ErrnoName(4000) = %q", got)
	}
}
