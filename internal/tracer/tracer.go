//go:build linux

// Package tracer drives one process tree through its syscall-entry and
// syscall-exit stops with ptrace, emitting a SyscallRecord per completed
// call. The loop is single-threaded and event-driven: one wait-for-any-
// child call is the only blocking point. Fork, vfork, clone and exec are
// followed when enabled; the initial tracee's exit status is preserved
// and becomes the tracer's own exit status.
package tracer

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/paiml/renacer/internal/diag"
	"github.com/paiml/renacer/internal/model"
)

// traceSysgoodBit distinguishes syscall stops from signal stops once
// PTRACE_O_TRACESYSGOOD is set.
const traceSysgoodBit = 0x80

// Memory is the slice of the tracee-memory reader the decoder consumes.
type Memory interface {
	ReadCString(addr uint64) (string, error)
	Snippet(addr, n uint64) (string, error)
	ReadBytes(addr uint64, n int) ([]byte, error)
}

// ptraceOps abstracts the kernel interface so the event loop can be
// exercised against synthetic stops in tests.
type ptraceOps interface {
	Attach(pid int) error
	Detach(pid int) error
	Kill(pid int) error
	SetOptions(pid int, options int) error
	GetRegs(pid int, regs *unix.PtraceRegs) error
	GetEventMsg(pid int) (uint, error)
	ResumeSyscall(pid int, sig int) error
	WaitAny() (int, unix.WaitStatus, error)
	Memory(pid int) Memory
}

// Options configures a trace session. Exactly one of Argv (spawn mode)
// and AttachPID (attach mode) must be set.
type Options struct {
	Argv      []string
	AttachPID int

	// Follow enables fork/vfork/clone/exec following.
	Follow bool

	// OnRecord receives every decoded record in syscall-exit order.
	OnRecord func(*model.SyscallRecord)

	// Unwind, when non-nil, is invoked once per syscall at the entry stop
	// and returns the user-code frames, innermost first. This is the only
	// place unwinding happens.
	Unwind func(pid int, regs *unix.PtraceRegs) []model.SourceLocation

	// DecisionSink, when non-nil, taps write(2) buffers so transpiler
	// decision lines can be captured. It receives the emitting record and
	// the raw bytes.
	DecisionSink func(rec *model.SyscallRecord, buf []byte)
}

// proc is the per-tracee state. Each pid carries its own in-syscall flag
// because the kernel does not pair entry and exit stops across pids.
type proc struct {
	pid        int
	inSyscall  bool
	entryValid bool
	entryRegs  unix.PtraceRegs
	entryTS    uint64
	stack      []model.SourceLocation

	// attached marks that the tracee's initial attach stop has been
	// consumed; the first SIGSTOP of a followed child is that stop, not a
	// real delivery, and must not be forwarded.
	attached bool
}

// Tracer runs the trace session.
type Tracer struct {
	opts Options
	ops  ptraceOps

	procs      map[int]*proc
	initialPID int
	exitStatus int

	interrupted atomic.Bool
}

// New builds a Tracer for the given options.
func New(opts Options) (*Tracer, error) {
	if (len(opts.Argv) == 0) == (opts.AttachPID == 0) {
		return nil, errors.New("exactly one of a command and an attach pid is required")
	}
	return &Tracer{
		opts:  opts,
		ops:   linuxOps{},
		procs: make(map[int]*proc),
	}, nil
}

// Interrupt asks the running loop to stop: attach mode detaches, spawn
// mode terminates the tracee and reaps it. In-flight records complete.
func (t *Tracer) Interrupt() {
	t.interrupted.Store(true)
}

// Run executes the session and returns the exit status to propagate:
// the tracee's own status in spawn mode (WIFEXITED status, or 128+signo),
// 0 on clean detach in attach mode.
func (t *Tracer) Run() (int, error) {
	// ptrace requests must come from the thread that attached
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(t.opts.Argv) > 0 {
		if err := t.spawn(); err != nil {
			return 1, err
		}
	} else {
		if err := t.attach(); err != nil {
			return 1, err
		}
	}
	return t.loop()
}

func (t *Tracer) spawn() error {
	cmd := exec.Command(t.opts.Argv[0], t.opts.Argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %q: %w", t.opts.Argv[0], err)
	}
	pid := cmd.Process.Pid

	// the child stops with SIGTRAP at its first exec
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("wait for initial stop of pid %d: %w", pid, err)
	}
	if err := t.setOptions(pid); err != nil {
		return err
	}
	t.register(pid).attached = true
	t.initialPID = pid
	return t.resume(pid, 0)
}

func (t *Tracer) attach() error {
	pid := t.opts.AttachPID
	if err := t.ops.Attach(pid); err != nil {
		if errors.Is(err, unix.EPERM) {
			return fmt.Errorf("attach to pid %d: %w (check /proc/sys/kernel/yama/ptrace_scope)", pid, err)
		}
		return fmt.Errorf("attach to pid %d: %w", pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("wait for attach stop of pid %d: %w", pid, err)
	}
	if err := t.setOptions(pid); err != nil {
		return err
	}
	t.register(pid).attached = true
	t.initialPID = pid
	return t.resume(pid, 0)
}

func (t *Tracer) setOptions(pid int) error {
	options := unix.PTRACE_O_TRACESYSGOOD
	if t.opts.Follow {
		options |= unix.PTRACE_O_TRACEFORK |
			unix.PTRACE_O_TRACEVFORK |
			unix.PTRACE_O_TRACECLONE |
			unix.PTRACE_O_TRACEEXEC
	}
	if err := t.ops.SetOptions(pid, options); err != nil {
		if errors.Is(err, unix.EPERM) {
			return fmt.Errorf("set ptrace options on pid %d: %w (check /proc/sys/kernel/yama/ptrace_scope)", pid, err)
		}
		return fmt.Errorf("set ptrace options on pid %d: %w", pid, err)
	}
	return nil
}

func (t *Tracer) register(pid int) *proc {
	p, ok := t.procs[pid]
	if !ok {
		p = &proc{pid: pid}
		t.procs[pid] = p
	}
	return p
}

func (t *Tracer) resume(pid, sig int) error {
	return t.ops.ResumeSyscall(pid, sig)
}

// loop is the single-threaded event loop: wait for any child, dispatch,
// resume, until the process group is empty.
func (t *Tracer) loop() (int, error) {
	for len(t.procs) > 0 {
		if t.interrupted.Load() {
			t.shutdown()
			break
		}

		wpid, ws, err := t.ops.WaitAny()
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ECHILD) {
				break
			}
			return t.exitStatus, fmt.Errorf("wait for tracees: %w", err)
		}

		t.handle(wpid, ws)
	}
	return t.exitStatus, nil
}

// handle dispatches one wait status through the per-tracee state machine.
func (t *Tracer) handle(wpid int, ws unix.WaitStatus) {
	switch {
	case ws.Exited():
		t.handleExit(wpid, ws.ExitStatus())

	case ws.Signaled():
		t.handleExit(wpid, 128+int(ws.Signal()))

	case ws.Stopped():
		t.handleStop(wpid, ws)

	default:
		diag.Errorf(diag.KindTraceeEvent, "pid %d: unexpected wait status %#x", wpid, int(ws))
	}
}

func (t *Tracer) handleExit(wpid, status int) {
	if p, ok := t.procs[wpid]; ok && p.inSyscall && p.entryValid &&
		(p.entryRegs.Orig_rax == unix.SYS_EXIT || p.entryRegs.Orig_rax == unix.SYS_EXIT_GROUP) {
		// a process that dies inside exit/exit_group never reaches its
		// syscall-exit stop; synthesize the terminal record
		t.emitTerminal(p)
	}
	if wpid == t.initialPID {
		t.exitStatus = status
	}
	delete(t.procs, wpid)
}

func (t *Tracer) handleStop(wpid int, ws unix.WaitStatus) {
	sig := ws.StopSignal()

	if cause := ws.TrapCause(); cause > 0 {
		t.handleEvent(wpid, cause)
		return
	}

	if sig == unix.SIGTRAP|traceSysgoodBit {
		t.handleSyscallStop(wpid)
		return
	}

	p, known := t.procs[wpid]
	if !known {
		// a followed child can report its initial stop before the parent's
		// fork event arrives; adopt it
		p = t.register(wpid)
		p.attached = true
		_ = t.resume(wpid, 0)
		return
	}

	if sig == unix.SIGSTOP && !p.attached {
		// initial stop of a child registered via a fork event
		p.attached = true
		_ = t.resume(wpid, 0)
		return
	}

	// plain signal-delivery stop: forward the signal
	if err := t.resume(wpid, int(sig)); err != nil {
		diag.Errorf(diag.KindTraceeEvent, "pid %d: forward signal %v: %v", wpid, sig, err)
	}
}

func (t *Tracer) handleEvent(wpid, cause int) {
	switch cause {
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
		if t.opts.Follow {
			if child, err := t.ops.GetEventMsg(wpid); err != nil {
				diag.Errorf(diag.KindTraceeEvent, "pid %d: read fork event message: %v", wpid, err)
			} else {
				t.register(int(child))
			}
		}

	case unix.PTRACE_EVENT_EXEC:
		// the image is gone; whatever syscall was in flight will never
		// report an exit stop
		if p, ok := t.procs[wpid]; ok {
			p.inSyscall = false
			p.stack = nil
		}

	default:
		diag.Errorf(diag.KindTraceeEvent, "pid %d: unexpected ptrace event %d", wpid, cause)
	}

	if err := t.resume(wpid, 0); err != nil {
		diag.Errorf(diag.KindTraceeEvent, "pid %d: resume after event: %v", wpid, err)
	}
}

func (t *Tracer) handleSyscallStop(wpid int) {
	p := t.register(wpid)
	p.attached = true

	if !p.inSyscall {
		t.handleSyscallEntry(p)
	} else {
		t.handleSyscallExit(p)
	}

	if err := t.resume(wpid, 0); err != nil {
		// the tracee may have been killed between stop and resume
		if !errors.Is(err, unix.ESRCH) {
			diag.Errorf(diag.KindTraceeEvent, "pid %d: resume: %v", wpid, err)
		}
	}
}

func (t *Tracer) handleSyscallEntry(p *proc) {
	// the flag toggles on every syscall-good stop for this pid so
	// entry/exit pairing survives a failed register read; the bad record
	// is dropped at the exit stop
	p.inSyscall = true
	p.stack = nil
	if err := t.ops.GetRegs(p.pid, &p.entryRegs); err != nil {
		diag.Errorf(diag.KindTraceeEvent, "pid %d: read entry registers: %v", p.pid, err)
		p.entryValid = false
		return
	}
	p.entryValid = true
	p.entryTS = nowNanos()
	if t.opts.Unwind != nil {
		p.stack = t.opts.Unwind(p.pid, &p.entryRegs)
	}
}

func (t *Tracer) handleSyscallExit(p *proc) {
	p.inSyscall = false
	if !p.entryValid {
		return
	}

	var exitRegs unix.PtraceRegs
	if err := t.ops.GetRegs(p.pid, &exitRegs); err != nil {
		diag.Errorf(diag.KindTraceeEvent, "pid %d: read exit registers: %v", p.pid, err)
		return
	}

	rec := t.buildRecord(p, int64(exitRegs.Rax), nowNanos())
	if t.opts.OnRecord != nil {
		t.opts.OnRecord(rec)
	}
}

// emitTerminal emits the record for an exit/exit_group that terminated
// the tracee before its exit stop. Duration is zero by construction.
func (t *Tracer) emitTerminal(p *proc) {
	rec := t.buildRecord(p, 0, p.entryTS)
	if t.opts.OnRecord != nil {
		t.opts.OnRecord(rec)
	}
}

func (t *Tracer) buildRecord(p *proc, result int64, exitTS uint64) *model.SyscallRecord {
	rec := &model.SyscallRecord{
		PID:       p.pid,
		Number:    p.entryRegs.Orig_rax,
		Args:      argWords(&p.entryRegs),
		Result:    result,
		EntryTime: p.entryTS,
		ExitTime:  exitTS,
		Stack:     p.stack,
	}
	if len(p.stack) > 0 {
		src := p.stack[0]
		rec.Source = &src
	}
	decode(rec, t.ops.Memory(p.pid), t.opts.DecisionSink)
	return rec
}

// argWords extracts the six syscall argument registers in ABI order.
func argWords(regs *unix.PtraceRegs) [6]uint64 {
	return [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9}
}

// shutdown handles an interrupt: detach in attach mode, terminate and
// reap in spawn mode.
func (t *Tracer) shutdown() {
	if t.opts.AttachPID != 0 {
		for pid := range t.procs {
			if err := t.ops.Detach(pid); err != nil && !errors.Is(err, unix.ESRCH) {
				diag.Errorf(diag.KindTraceeEvent, "pid %d: detach: %v", pid, err)
			}
		}
		t.procs = map[int]*proc{}
		return
	}
	for pid := range t.procs {
		_ = t.ops.Kill(pid)
	}
	// reap so the children do not outlive the session as zombies
	for pid := range t.procs {
		var ws unix.WaitStatus
		if _, err := unix.Wait4(pid, &ws, 0, nil); err == nil {
			if pid == t.initialPID && ws.Signaled() {
				t.exitStatus = 128 + int(ws.Signal())
			}
		}
	}
	t.procs = map[int]*proc{}
}

// nowNanos returns a monotonic nanosecond timestamp.
func nowNanos() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}
