//go:build linux

package tracer

import (
	"golang.org/x/sys/unix"

	"github.com/paiml/renacer/internal/tracee"
)

// linuxOps is the real kernel backend for the event loop.
type linuxOps struct{}

func (linuxOps) Attach(pid int) error {
	return unix.PtraceAttach(pid)
}

func (linuxOps) Detach(pid int) error {
	return unix.PtraceDetach(pid)
}

func (linuxOps) Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

func (linuxOps) SetOptions(pid int, options int) error {
	return unix.PtraceSetOptions(pid, options)
}

func (linuxOps) GetRegs(pid int, regs *unix.PtraceRegs) error {
	return unix.PtraceGetRegs(pid, regs)
}

func (linuxOps) GetEventMsg(pid int) (uint, error) {
	return unix.PtraceGetEventMsg(pid)
}

func (linuxOps) ResumeSyscall(pid, sig int) error {
	return unix.PtraceSyscall(pid, sig)
}

func (linuxOps) WaitAny() (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	// __WALL so clone children are reported regardless of their
	// termination signal
	pid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
	return pid, ws, err
}

func (linuxOps) Memory(pid int) Memory {
	return tracee.NewReader(pid)
}
