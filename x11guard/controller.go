package x11guard

import "time"

// Sample is a single connection count of the target.
type Sample struct {
	PID   int
	Count int
	Time  time.Time
}

// RestartState is the cooldown state. The zero value means no restart has
// happened yet. It is owned by the guard loop and passed through Evaluate.
type RestartState struct {
	LastRestart time.Time
}

// CooldownRemaining returns how long restarts are still blocked at now. The
// boundary is inclusive: exactly cooldown after the last restart, a restart is
// allowed again.
func (s RestartState) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	if s.LastRestart.IsZero() {
		return 0
	}

	if elapsed := now.Sub(s.LastRestart); elapsed < cooldown {
		return cooldown - elapsed
	}

	return 0
}

// Action is the outcome of evaluating a sample.
type Action uint8

const (
	ActionNoOp Action = iota
	ActionSkippedCooldown
	ActionWouldRestart
	ActionRestarted
	// ActionRestartFailed is returned when the restart sequence failed. The
	// state is left unchanged so that the next evaluation retries.
	ActionRestartFailed
)

func (a Action) String() string {
	switch a {
	case ActionNoOp:
		return "noop"
	case ActionSkippedCooldown:
		return "skipped-cooldown"
	case ActionWouldRestart:
		return "would-restart"
	case ActionRestarted:
		return "restarted"
	case ActionRestartFailed:
		return "restart-failed"
	default:
		return "unknown"
	}
}

// Controller decides what to do with each sample.
type Controller struct {
	Threshold int
	Cooldown  time.Duration
	DryRun    bool
	Command   string

	j         Journaler
	restarter Restarter
	now       func() time.Time
}

// NewController creates a controller that restarts through r.
func NewController(cfg Config, r Restarter, j Journaler) *Controller {
	return &Controller{
		Threshold: cfg.Threshold,
		Cooldown:  cfg.Cooldown,
		DryRun:    cfg.DryRun,
		Command:   cfg.Command(),
		j:         j,
		restarter: r,
		now:       time.Now,
	}
}

// Evaluate applies the restart rules to sample in order: a count at or below
// the threshold does nothing, then the cooldown is enforced, then dry-run only
// reports, and otherwise the target is restarted. The returned state differs
// from state only after a successful restart, in which case LastRestart is the
// time the launch returned.
func (c *Controller) Evaluate(sample Sample, state RestartState) (Action, RestartState, error) {
	if sample.Count <= c.Threshold {
		return ActionNoOp, state, nil
	}

	if remaining := state.CooldownRemaining(sample.Time, c.Cooldown); remaining > 0 {
		c.j.Write(&EventSkippedCooldown{
			PID:       sample.PID,
			Count:     sample.Count,
			Threshold: c.Threshold,
			Remaining: remaining.Seconds(),
		})
		return ActionSkippedCooldown, state, nil
	}

	if c.DryRun {
		c.j.Write(&EventWouldRestart{
			PID:       sample.PID,
			Count:     sample.Count,
			Threshold: c.Threshold,
			Command:   c.Command,
		})
		return ActionWouldRestart, state, nil
	}

	report, err := c.restarter.Restart(sample.PID)
	if err != nil {
		c.j.Write(&EventRestartFailed{
			PID:    sample.PID,
			Count:  sample.Count,
			Error:  err.Error(),
			Phases: report.Phases,
		})
		return ActionRestartFailed, state, err
	}

	state.LastRestart = c.now()

	c.j.Write(&EventRestarted{
		OldPID:      sample.PID,
		NewPID:      report.NewPID,
		Count:       sample.Count,
		Threshold:   c.Threshold,
		Command:     c.Command,
		ForceKilled: report.ForceKilled,
		Lingering:   report.Lingering,
		Phases:      report.Phases,
	})

	return ActionRestarted, state, nil
}
