package x11guard

import (
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/x11guard/x11guard/internal/exec"
	"github.com/pkg/errors"
)

// RestartPhase is a state of the restart sequence.
type RestartPhase string

const (
	PhaseRunning                   RestartPhase = "running"
	PhaseGracefulShutdownRequested RestartPhase = "graceful-shutdown-requested"
	PhaseExited                    RestartPhase = "exited"
	PhaseTimedOut                  RestartPhase = "timed-out"
	PhaseForceKilled               RestartPhase = "force-killed"
	PhaseRelaunched                RestartPhase = "relaunched"
)

// RestartReport describes how a restart sequence went.
type RestartReport struct {
	// Phases lists every phase entered, in order.
	Phases      []RestartPhase
	ForceKilled bool
	// Lingering is true if the process was still around after SIGKILL and the
	// kill timeout. The command is launched anyway.
	Lingering bool
	NewPID    int
}

func (r *RestartReport) enter(phase RestartPhase) {
	r.Phases = append(r.Phases, phase)
}

// Restarter stops a process and launches its replacement.
type Restarter interface {
	Restart(pid int) (RestartReport, error)
}

// ProcessRestarter is the Restarter of real processes: SIGTERM, wait up to
// GraceTimeout, SIGKILL and wait up to KillTimeout, then launch Command.
type ProcessRestarter struct {
	Command      string
	GraceTimeout time.Duration
	KillTimeout  time.Duration
	PollInterval time.Duration

	findProc   func(pid int) (exec.Process, error)
	launchProc func(command string) (int, error)
}

var _ Restarter = (*ProcessRestarter)(nil)

// NewRestarter creates a restarter from the given configuration.
func NewRestarter(cfg Config) *ProcessRestarter {
	return &ProcessRestarter{
		Command:      cfg.Command(),
		GraceTimeout: cfg.GraceTimeout,
		KillTimeout:  cfg.KillTimeout,
		PollInterval: 100 * time.Millisecond,

		findProc:   exec.FindProcess,
		launchProc: exec.StartDetached,
	}
}

// Restart runs the restart sequence on pid. A process that is already gone
// counts as exited. The returned report is valid even if an error is returned.
func (r *ProcessRestarter) Restart(pid int) (RestartReport, error) {
	report := RestartReport{Phases: []RestartPhase{PhaseRunning}}

	proc, err := r.findProc(pid)
	if err != nil {
		return report, errors.Wrap(err, "failed to find process")
	}

	report.enter(PhaseGracefulShutdownRequested)

	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, exec.ErrProcessDone) {
		return report, errors.Wrap(err, "failed to terminate")
	}

	if exec.WaitExited(proc, r.GraceTimeout, r.PollInterval) {
		report.enter(PhaseExited)
	} else {
		report.enter(PhaseTimedOut)

		if err := proc.Kill(); err != nil && !errors.Is(err, exec.ErrProcessDone) {
			return report, errors.Wrap(err, "failed to kill")
		}

		report.enter(PhaseForceKilled)
		report.ForceKilled = true

		if exec.WaitExited(proc, r.KillTimeout, r.PollInterval) {
			report.enter(PhaseExited)
		} else {
			report.Lingering = true
		}
	}

	newPID, err := r.launchProc(r.Command)
	if err != nil {
		return report, errors.Wrapf(err, "failed to launch %q", r.Command)
	}

	report.NewPID = newPID
	report.enter(PhaseRelaunched)

	return report, nil
}
