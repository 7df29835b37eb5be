package exec

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// SleepProcess is a process that only idles until it is signalled. It is used
// for testing.
type SleepProcess struct {
	once  sync.Once
	stop  chan struct{}
	delay time.Duration
	pid   int

	mutex   sync.Mutex
	signals []os.Signal
}

var _ Process = (*SleepProcess)(nil)

// NewSleepProcess creates a process that exits delay after receiving SIGINT or
// SIGTERM, and immediately on SIGKILL. If delay is negative, catchable signals
// are ignored.
func NewSleepProcess(delay time.Duration, pid int) *SleepProcess {
	return &SleepProcess{
		stop:  make(chan struct{}),
		delay: delay,
		pid:   pid,
	}
}

// NewExitedProcess creates a process that is already gone.
func NewExitedProcess(pid int) *SleepProcess {
	p := NewSleepProcess(0, pid)
	p.Exit()
	return p
}

func (mock *SleepProcess) PID() int { return mock.pid }

func (mock *SleepProcess) Signal(sig os.Signal) error {
	if mock.Exited() {
		return ErrProcessDone
	}

	mock.mutex.Lock()
	mock.signals = append(mock.signals, sig)
	mock.mutex.Unlock()

	switch sig {
	case syscall.SIGKILL:
		mock.Exit()
		return nil
	case syscall.SIGINT, syscall.SIGTERM: // catchable
	default:
		return errors.New("unknown signal")
	}

	if mock.delay < 0 {
		return nil
	}

	go func() {
		select {
		case <-time.After(mock.delay):
			mock.Exit()
		case <-mock.stop:
		}
	}()

	return nil
}

func (mock *SleepProcess) Kill() error {
	return mock.Signal(syscall.SIGKILL)
}

func (mock *SleepProcess) Exited() bool {
	select {
	case <-mock.stop:
		return true
	default:
		return false
	}
}

// Exit makes the process exit on its own.
func (mock *SleepProcess) Exit() {
	mock.once.Do(func() { close(mock.stop) })
}

// Signals returns the signals received so far, in order.
func (mock *SleepProcess) Signals() []os.Signal {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	return append([]os.Signal(nil), mock.signals...)
}
