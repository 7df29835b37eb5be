// Package exec provides an abstraction around signalling processes that the
// guard does not own, and launching the ones it replaces them with, for easier
// testing.
package exec

import (
	"os"
	osexec "os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// ErrProcessDone is returned when a signal is sent to a process that no longer
// exists.
var ErrProcessDone = errors.New("process already finished")

// Shell is the interpreter used to run restart commands.
var Shell = "/bin/sh"

// Process describes a running process identified only by its PID. Unlike
// os.Process, the process is usually not a child of the guard, so it cannot be
// waited on; liveness must be polled with Exited.
type Process interface {
	PID() int
	Signal(os.Signal) error
	Kill() error
	Exited() bool
}

type process struct {
	pid int
	fs  procfs.FS
	// hasFS is false if the proc filesystem could not be opened, in which case
	// zombies are reported as alive.
	hasFS bool
}

var _ Process = process{}

// FindProcess creates a new Process from an existing process ID. It does not
// check whether the process is alive.
func FindProcess(pid int) (Process, error) {
	if pid <= 0 {
		return nil, errors.Errorf("invalid pid %d", pid)
	}

	fs, err := procfs.NewDefaultFS()
	return process{pid: pid, fs: fs, hasFS: err == nil}, nil
}

func (proc process) PID() int {
	return proc.pid
}

// Signal sends the given signal. ErrProcessDone is returned if the process is
// already gone.
func (proc process) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return errors.Errorf("unsupported signal %v", sig)
	}

	if err := unix.Kill(proc.pid, s); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessDone
		}
		return errors.Wrapf(err, "failed to send %v to %d", sig, proc.pid)
	}

	return nil
}

func (proc process) Kill() error {
	return proc.Signal(unix.SIGKILL)
}

// Exited returns true if the process no longer exists or is a zombie waiting
// to be reaped.
func (proc process) Exited() bool {
	if err := unix.Kill(proc.pid, 0); errors.Is(err, unix.ESRCH) {
		return true
	}

	if !proc.hasFS {
		return false
	}

	p, err := proc.fs.Proc(proc.pid)
	if err != nil {
		return os.IsNotExist(err)
	}

	stat, err := p.Stat()
	if err != nil {
		return false
	}

	return stat.State == "Z" || stat.State == "X"
}

// WaitExited polls the process every interval until it exits or the timeout
// elapses. It reports whether the process exited.
func WaitExited(proc Process, timeout, interval time.Duration) bool {
	if proc.Exited() {
		return true
	}

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	after := time.NewTimer(timeout)
	defer after.Stop()

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-after.C:
			return proc.Exited()
		case <-tick.C:
			if proc.Exited() {
				return true
			}
		}
	}
}

// StartDetached runs command through Shell as a login shell in a new session
// with its standard streams pointed at /dev/null. It returns the PID of the
// shell. The caller never waits on it; the child is reaped in the background
// once it exits.
func StartDetached(command string) (int, error) {
	cmd := osexec.Command(Shell, "-lc", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "failed to start command")
	}

	pid := cmd.Process.Pid
	go cmd.Wait()

	return pid, nil
}
