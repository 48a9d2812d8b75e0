// Package sys holds the x86_64 syscall table: numeric id to canonical name
// and argument shape, the class expansions used by the filter language, and
// errno names. The table drives the decoder; raw argument words are never
// reinterpreted without consulting the shape registered for the number.
package sys

import "fmt"

// ArgKind describes how a raw argument word should be decoded.
type ArgKind int

const (
	// ArgInt renders as a signed decimal.
	ArgInt ArgKind = iota
	// ArgUint renders as an unsigned decimal.
	ArgUint
	// ArgFd renders as a decimal file descriptor.
	ArgFd
	// ArgPath is a pointer to a NUL-terminated path in tracee memory.
	ArgPath
	// ArgBuf is a pointer to a byte buffer in tracee memory; the buffer
	// length is taken from the following ArgLen argument (bounded to a
	// short printable snippet).
	ArgBuf
	// ArgLen is a byte count paired with a preceding ArgBuf.
	ArgLen
	// ArgPtr renders as a hex address (0 renders as NULL).
	ArgPtr
	// ArgFlags renders as a hex flag word.
	ArgFlags
	// ArgMode renders as an octal mode.
	ArgMode
	// ArgSignal renders as a signal number.
	ArgSignal
)

// Syscall is one entry of the syscall table.
type Syscall struct {
	Number uint64
	Name   string
	Args   []ArgKind
}

// Lookup returns the table entry for a syscall number. For numbers outside
// the table it synthesizes a "syscall_NNN" entry with six pointer-shaped
// arguments, so unknown calls still render deterministically.
func Lookup(number uint64) Syscall {
	if sc, ok := table[number]; ok {
		return sc
	}
	return Syscall{
		Number: number,
		Name:   fmt.Sprintf("syscall_%d", number),
		Args:   []ArgKind{ArgPtr, ArgPtr, ArgPtr, ArgPtr, ArgPtr, ArgPtr},
	}
}

// Name returns the canonical name for a syscall number.
func Name(number uint64) string {
	return Lookup(number).Name
}

// table maps x86_64 syscall numbers to their canonical name and argument
// shape. Shapes list only the arguments the syscall consumes.
var table = map[uint64]Syscall{
	0:   {0, "read", []ArgKind{ArgFd, ArgBuf, ArgLen}},
	1:   {1, "write", []ArgKind{ArgFd, ArgBuf, ArgLen}},
	2:   {2, "open", []ArgKind{ArgPath, ArgFlags, ArgMode}},
	3:   {3, "close", []ArgKind{ArgFd}},
	4:   {4, "stat", []ArgKind{ArgPath, ArgPtr}},
	5:   {5, "fstat", []ArgKind{ArgFd, ArgPtr}},
	6:   {6, "lstat", []ArgKind{ArgPath, ArgPtr}},
	7:   {7, "poll", []ArgKind{ArgPtr, ArgUint, ArgInt}},
	8:   {8, "lseek", []ArgKind{ArgFd, ArgInt, ArgUint}},
	9:   {9, "mmap", []ArgKind{ArgPtr, ArgLen, ArgFlags, ArgFlags, ArgFd, ArgUint}},
	10:  {10, "mprotect", []ArgKind{ArgPtr, ArgLen, ArgFlags}},
	11:  {11, "munmap", []ArgKind{ArgPtr, ArgLen}},
	12:  {12, "brk", []ArgKind{ArgPtr}},
	13:  {13, "rt_sigaction", []ArgKind{ArgSignal, ArgPtr, ArgPtr, ArgLen}},
	14:  {14, "rt_sigprocmask", []ArgKind{ArgInt, ArgPtr, ArgPtr, ArgLen}},
	15:  {15, "rt_sigreturn", nil},
	16:  {16, "ioctl", []ArgKind{ArgFd, ArgUint, ArgPtr}},
	17:  {17, "pread64", []ArgKind{ArgFd, ArgBuf, ArgLen, ArgInt}},
	18:  {18, "pwrite64", []ArgKind{ArgFd, ArgBuf, ArgLen, ArgInt}},
	19:  {19, "readv", []ArgKind{ArgFd, ArgPtr, ArgInt}},
	20:  {20, "writev", []ArgKind{ArgFd, ArgPtr, ArgInt}},
	21:  {21, "access", []ArgKind{ArgPath, ArgFlags}},
	22:  {22, "pipe", []ArgKind{ArgPtr}},
	23:  {23, "select", []ArgKind{ArgInt, ArgPtr, ArgPtr, ArgPtr, ArgPtr}},
	24:  {24, "sched_yield", nil},
	25:  {25, "mremap", []ArgKind{ArgPtr, ArgLen, ArgLen, ArgFlags, ArgPtr}},
	26:  {26, "msync", []ArgKind{ArgPtr, ArgLen, ArgFlags}},
	27:  {27, "mincore", []ArgKind{ArgPtr, ArgLen, ArgPtr}},
	28:  {28, "madvise", []ArgKind{ArgPtr, ArgLen, ArgInt}},
	32:  {32, "dup", []ArgKind{ArgFd}},
	33:  {33, "dup2", []ArgKind{ArgFd, ArgFd}},
	34:  {34, "pause", nil},
	35:  {35, "nanosleep", []ArgKind{ArgPtr, ArgPtr}},
	37:  {37, "alarm", []ArgKind{ArgUint}},
	39:  {39, "getpid", nil},
	41:  {41, "socket", []ArgKind{ArgInt, ArgFlags, ArgInt}},
	42:  {42, "connect", []ArgKind{ArgFd, ArgPtr, ArgLen}},
	43:  {43, "accept", []ArgKind{ArgFd, ArgPtr, ArgPtr}},
	44:  {44, "sendto", []ArgKind{ArgFd, ArgBuf, ArgLen, ArgFlags, ArgPtr, ArgLen}},
	45:  {45, "recvfrom", []ArgKind{ArgFd, ArgBuf, ArgLen, ArgFlags, ArgPtr, ArgPtr}},
	46:  {46, "sendmsg", []ArgKind{ArgFd, ArgPtr, ArgFlags}},
	47:  {47, "recvmsg", []ArgKind{ArgFd, ArgPtr, ArgFlags}},
	48:  {48, "shutdown", []ArgKind{ArgFd, ArgInt}},
	49:  {49, "bind", []ArgKind{ArgFd, ArgPtr, ArgLen}},
	50:  {50, "listen", []ArgKind{ArgFd, ArgInt}},
	51:  {51, "getsockname", []ArgKind{ArgFd, ArgPtr, ArgPtr}},
	52:  {52, "getpeername", []ArgKind{ArgFd, ArgPtr, ArgPtr}},
	53:  {53, "socketpair", []ArgKind{ArgInt, ArgInt, ArgInt, ArgPtr}},
	54:  {54, "setsockopt", []ArgKind{ArgFd, ArgInt, ArgInt, ArgPtr, ArgLen}},
	55:  {55, "getsockopt", []ArgKind{ArgFd, ArgInt, ArgInt, ArgPtr, ArgPtr}},
	56:  {56, "clone", []ArgKind{ArgFlags, ArgPtr, ArgPtr, ArgPtr, ArgPtr}},
	57:  {57, "fork", nil},
	58:  {58, "vfork", nil},
	59:  {59, "execve", []ArgKind{ArgPath, ArgPtr, ArgPtr}},
	60:  {60, "exit", []ArgKind{ArgInt}},
	61:  {61, "wait4", []ArgKind{ArgInt, ArgPtr, ArgFlags, ArgPtr}},
	62:  {62, "kill", []ArgKind{ArgInt, ArgSignal}},
	63:  {63, "uname", []ArgKind{ArgPtr}},
	72:  {72, "fcntl", []ArgKind{ArgFd, ArgInt, ArgUint}},
	73:  {73, "flock", []ArgKind{ArgFd, ArgInt}},
	74:  {74, "fsync", []ArgKind{ArgFd}},
	75:  {75, "fdatasync", []ArgKind{ArgFd}},
	76:  {76, "truncate", []ArgKind{ArgPath, ArgInt}},
	77:  {77, "ftruncate", []ArgKind{ArgFd, ArgInt}},
	78:  {78, "getdents", []ArgKind{ArgFd, ArgPtr, ArgLen}},
	79:  {79, "getcwd", []ArgKind{ArgPtr, ArgLen}},
	80:  {80, "chdir", []ArgKind{ArgPath}},
	81:  {81, "fchdir", []ArgKind{ArgFd}},
	82:  {82, "rename", []ArgKind{ArgPath, ArgPath}},
	83:  {83, "mkdir", []ArgKind{ArgPath, ArgMode}},
	84:  {84, "rmdir", []ArgKind{ArgPath}},
	85:  {85, "creat", []ArgKind{ArgPath, ArgMode}},
	86:  {86, "link", []ArgKind{ArgPath, ArgPath}},
	87:  {87, "unlink", []ArgKind{ArgPath}},
	88:  {88, "symlink", []ArgKind{ArgPath, ArgPath}},
	89:  {89, "readlink", []ArgKind{ArgPath, ArgPtr, ArgLen}},
	90:  {90, "chmod", []ArgKind{ArgPath, ArgMode}},
	91:  {91, "fchmod", []ArgKind{ArgFd, ArgMode}},
	92:  {92, "chown", []ArgKind{ArgPath, ArgInt, ArgInt}},
	93:  {93, "fchown", []ArgKind{ArgFd, ArgInt, ArgInt}},
	95:  {95, "umask", []ArgKind{ArgMode}},
	96:  {96, "gettimeofday", []ArgKind{ArgPtr, ArgPtr}},
	97:  {97, "getrlimit", []ArgKind{ArgInt, ArgPtr}},
	98:  {98, "getrusage", []ArgKind{ArgInt, ArgPtr}},
	99:  {99, "sysinfo", []ArgKind{ArgPtr}},
	102: {102, "getuid", nil},
	104: {104, "getgid", nil},
	107: {107, "geteuid", nil},
	108: {108, "getegid", nil},
	109: {109, "setpgid", []ArgKind{ArgInt, ArgInt}},
	110: {110, "getppid", nil},
	112: {112, "setsid", nil},
	131: {131, "sigaltstack", []ArgKind{ArgPtr, ArgPtr}},
	137: {137, "statfs", []ArgKind{ArgPath, ArgPtr}},
	138: {138, "fstatfs", []ArgKind{ArgFd, ArgPtr}},
	158: {158, "arch_prctl", []ArgKind{ArgInt, ArgPtr}},
	186: {186, "gettid", nil},
	201: {201, "time", []ArgKind{ArgPtr}},
	202: {202, "futex", []ArgKind{ArgPtr, ArgInt, ArgUint, ArgPtr, ArgPtr, ArgUint}},
	203: {203, "sched_setaffinity", []ArgKind{ArgInt, ArgLen, ArgPtr}},
	204: {204, "sched_getaffinity", []ArgKind{ArgInt, ArgLen, ArgPtr}},
	213: {213, "epoll_create", []ArgKind{ArgInt}},
	217: {217, "getdents64", []ArgKind{ArgFd, ArgPtr, ArgLen}},
	218: {218, "set_tid_address", []ArgKind{ArgPtr}},
	228: {228, "clock_gettime", []ArgKind{ArgInt, ArgPtr}},
	229: {229, "clock_getres", []ArgKind{ArgInt, ArgPtr}},
	230: {230, "clock_nanosleep", []ArgKind{ArgInt, ArgFlags, ArgPtr, ArgPtr}},
	231: {231, "exit_group", []ArgKind{ArgInt}},
	232: {232, "epoll_wait", []ArgKind{ArgFd, ArgPtr, ArgInt, ArgInt}},
	233: {233, "epoll_ctl", []ArgKind{ArgFd, ArgInt, ArgFd, ArgPtr}},
	234: {234, "tgkill", []ArgKind{ArgInt, ArgInt, ArgSignal}},
	257: {257, "openat", []ArgKind{ArgFd, ArgPath, ArgFlags, ArgMode}},
	258: {258, "mkdirat", []ArgKind{ArgFd, ArgPath, ArgMode}},
	260: {260, "fchownat", []ArgKind{ArgFd, ArgPath, ArgInt, ArgInt, ArgFlags}},
	262: {262, "newfstatat", []ArgKind{ArgFd, ArgPath, ArgPtr, ArgFlags}},
	263: {263, "unlinkat", []ArgKind{ArgFd, ArgPath, ArgFlags}},
	264: {264, "renameat", []ArgKind{ArgFd, ArgPath, ArgFd, ArgPath}},
	265: {265, "linkat", []ArgKind{ArgFd, ArgPath, ArgFd, ArgPath, ArgFlags}},
	266: {266, "symlinkat", []ArgKind{ArgPath, ArgFd, ArgPath}},
	267: {267, "readlinkat", []ArgKind{ArgFd, ArgPath, ArgPtr, ArgLen}},
	268: {268, "fchmodat", []ArgKind{ArgFd, ArgPath, ArgMode}},
	269: {269, "faccessat", []ArgKind{ArgFd, ArgPath, ArgFlags}},
	270: {270, "pselect6", []ArgKind{ArgInt, ArgPtr, ArgPtr, ArgPtr, ArgPtr, ArgPtr}},
	271: {271, "ppoll", []ArgKind{ArgPtr, ArgUint, ArgPtr, ArgPtr, ArgLen}},
	273: {273, "set_robust_list", []ArgKind{ArgPtr, ArgLen}},
	275: {275, "splice", []ArgKind{ArgFd, ArgPtr, ArgFd, ArgPtr, ArgLen, ArgFlags}},
	280: {280, "utimensat", []ArgKind{ArgFd, ArgPath, ArgPtr, ArgFlags}},
	281: {281, "epoll_pwait", []ArgKind{ArgFd, ArgPtr, ArgInt, ArgInt, ArgPtr, ArgLen}},
	284: {284, "eventfd", []ArgKind{ArgUint}},
	285: {285, "fallocate", []ArgKind{ArgFd, ArgFlags, ArgInt, ArgInt}},
	288: {288, "accept4", []ArgKind{ArgFd, ArgPtr, ArgPtr, ArgFlags}},
	290: {290, "eventfd2", []ArgKind{ArgUint, ArgFlags}},
	291: {291, "epoll_create1", []ArgKind{ArgFlags}},
	292: {292, "dup3", []ArgKind{ArgFd, ArgFd, ArgFlags}},
	293: {293, "pipe2", []ArgKind{ArgPtr, ArgFlags}},
	295: {295, "preadv", []ArgKind{ArgFd, ArgPtr, ArgInt, ArgInt}},
	296: {296, "pwritev", []ArgKind{ArgFd, ArgPtr, ArgInt, ArgInt}},
	302: {302, "prlimit64", []ArgKind{ArgInt, ArgInt, ArgPtr, ArgPtr}},
	316: {316, "renameat2", []ArgKind{ArgFd, ArgPath, ArgFd, ArgPath, ArgFlags}},
	318: {318, "getrandom", []ArgKind{ArgPtr, ArgLen, ArgFlags}},
	319: {319, "memfd_create", []ArgKind{ArgPath, ArgFlags}},
	322: {322, "execveat", []ArgKind{ArgFd, ArgPath, ArgPtr, ArgPtr, ArgFlags}},
	332: {332, "statx", []ArgKind{ArgFd, ArgPath, ArgFlags, ArgUint, ArgPtr}},
	435: {435, "clone3", []ArgKind{ArgPtr, ArgLen}},
	437: {437, "openat2", []ArgKind{ArgFd, ArgPath, ArgPtr, ArgLen}},
	439: {439, "faccessat2", []ArgKind{ArgFd, ArgPath, ArgFlags, ArgFlags}},
}
