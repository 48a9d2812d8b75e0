package sys

// Class expansions for the filter language. Each class maps to the literal
// set of syscall names it covers on x86_64.
var Classes = map[string][]string{
	"file": {
		"open", "openat", "openat2", "creat",
		"read", "write", "pread64", "pwrite64",
		"readv", "writev", "preadv", "pwritev",
		"close", "stat", "fstat", "lstat", "newfstatat", "statx",
		"access", "faccessat", "faccessat2", "lseek",
		"getdents", "getdents64", "readlink", "readlinkat",
		"rename", "renameat", "renameat2",
		"mkdir", "mkdirat", "rmdir", "unlink", "unlinkat",
		"link", "linkat", "symlink", "symlinkat",
		"chmod", "fchmod", "fchmodat", "chown", "fchown", "fchownat",
		"truncate", "ftruncate", "fsync", "fdatasync", "fallocate",
		"dup", "dup2", "dup3", "fcntl", "flock",
		"getcwd", "chdir", "fchdir", "utimensat",
	},
	"network": {
		"socket", "connect", "accept", "accept4", "bind", "listen",
		"sendto", "recvfrom", "sendmsg", "recvmsg", "shutdown",
		"getsockname", "getpeername", "socketpair",
		"setsockopt", "getsockopt",
	},
	"socket": {
		"socket", "socketpair", "bind", "listen", "accept", "accept4",
		"connect", "shutdown", "getsockname", "getpeername",
		"setsockopt", "getsockopt",
	},
	"process": {
		"fork", "vfork", "clone", "clone3", "execve", "execveat",
		"exit", "exit_group", "wait4", "kill", "tgkill",
		"getpid", "getppid", "gettid",
	},
	"memory": {
		"mmap", "munmap", "mremap", "mprotect", "brk",
		"madvise", "msync", "mincore",
	},
}

// ioSyscalls is the set the function profiler treats as I/O for
// bottleneck attribution.
var ioSyscalls = map[string]bool{
	"read": true, "write": true,
	"pread64": true, "pwrite64": true,
	"readv": true, "writev": true,
	"preadv": true, "pwritev": true,
	"recvfrom": true, "sendto": true,
	"recvmsg": true, "sendmsg": true,
	"fsync": true, "fdatasync": true,
}

// IsIO reports whether name is an I/O syscall.
func IsIO(name string) bool {
	return ioSyscalls[name]
}
