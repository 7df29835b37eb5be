package x11guard

import (
	"context"
	"time"

	"git.unix.lgbt/diamondburned/x11guard/x11guard/internal/exec"
	"git.unix.lgbt/diamondburned/x11guard/x11guard/internal/procscan"
	"github.com/pkg/errors"
)

// locator resolves the target's PID; see procscan.Locator.
type locator interface {
	Resolve(name string) (pid int, found bool, err error)
}

// counter counts display connections; see procscan.Counter.
type counter interface {
	Count(pid int) (int, error)
}

// follower is the subscription side of the Notifier.
type follower interface {
	Follow(Identity)
	Triggers() <-chan Trigger
	Close() error
}

// Guard is the guard loop. It owns the target, the restart state and every
// component, and runs all control cycles one after another on the goroutine
// calling Run.
type Guard struct {
	cfg Config
	j   Journaler

	target     *Target
	state      RestartState
	controller *Controller

	locator  locator
	counter  counter
	notifier follower

	alive        func(pid int) bool
	now          func() time.Time
	newScheduler func(fallback, scan time.Duration) *Scheduler
}

// NewGuard creates a guard from cfg. It fails if the process table, the
// descriptor tables or the socket tables of the system cannot be read at all,
// or if the descriptor watcher cannot be created.
func NewGuard(cfg Config, j Journaler) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	display, err := procscan.ParseDisplay(cfg.Display)
	if err != nil {
		return nil, err
	}

	l, err := procscan.NewLocator(cfg.ProcRoot)
	if err != nil {
		return nil, err
	}
	if err := l.Check(); err != nil {
		return nil, err
	}

	sources, err := display.Sources(cfg.ProcRoot, cfg.SocketDir)
	if err != nil {
		return nil, err
	}

	c, err := procscan.NewCounter(cfg.ProcRoot, sources...)
	if err != nil {
		return nil, err
	}
	if err := c.Check(); err != nil {
		return nil, err
	}

	n, err := NewNotifier(cfg.ProcRoot, cfg.Debounce, j)
	if err != nil {
		return nil, err
	}

	g := newGuard(cfg, j, l, c, n, NewRestarter(cfg))
	return g, nil
}

func newGuard(cfg Config, j Journaler, l locator, c counter, n follower, r Restarter) *Guard {
	return &Guard{
		cfg:        cfg,
		j:          j,
		target:     NewTarget(cfg.AppName, cfg.Command()),
		controller: NewController(cfg, r, j),
		locator:    l,
		counter:    c,
		notifier:   n,
		alive: func(pid int) bool {
			p, err := exec.FindProcess(pid)
			return err == nil && !p.Exited()
		},
		now:          time.Now,
		newScheduler: NewScheduler,
	}
}

// Run runs the guard until ctx is canceled, then releases the notifier and the
// tickers and returns nil. A restart that has begun always runs to completion
// before Run returns.
func (g *Guard) Run(ctx context.Context) error {
	defer g.notifier.Close()

	g.j.Write(&EventStarted{
		AppName:   g.cfg.AppName,
		Display:   g.cfg.Display,
		Threshold: g.cfg.Threshold,
		DryRun:    g.cfg.DryRun,
	})
	defer g.j.Write(&EventShutdown{})

	sched := g.newScheduler(g.cfg.FallbackPoll, g.cfg.ScanInterval)
	defer sched.Stop()

	// Evaluate once right away instead of waiting for the first tick.
	g.dispatch(Trigger{Kind: TriggerScanTick, Time: g.now()})

	for {
		var trigger Trigger

		select {
		case <-ctx.Done():
			trigger = Trigger{Kind: TriggerShutdown, Time: g.now()}
		case trigger = <-g.notifier.Triggers():
		case t := <-sched.Fallback():
			trigger = Trigger{Kind: TriggerFallbackTick, Time: t}
		case t := <-sched.Scan():
			trigger = Trigger{Kind: TriggerScanTick, Time: t}
		}

		if !g.dispatch(trigger) {
			return nil
		}
	}
}

// dispatch handles a single trigger. It returns false once the loop must stop.
func (g *Guard) dispatch(trigger Trigger) bool {
	switch trigger.Kind {
	case TriggerShutdown:
		return false
	case TriggerDescriptorChange:
		// Sent for an older generation of the target; the cycle that moved on
		// to the new one has resubscribed the notifier already.
		if !g.target.Owns(trigger.Identity) {
			return true
		}
		g.cycle(trigger, false)
	case TriggerFallbackTick:
		g.cycle(trigger, false)
	case TriggerScanTick:
		g.cycle(trigger, true)
	}

	return true
}

// cycle runs one control cycle.
func (g *Guard) cycle(trigger Trigger, rescan bool) {
	id, ok := g.target.Identity()
	if rescan || !ok || g.target.Stale() || !g.alive(id.PID) {
		id, ok = g.resolve()
	}
	if !ok {
		return
	}

	count, err := g.counter.Count(id.PID)
	if err != nil {
		if errors.Is(err, procscan.ErrProcessGone) {
			g.lose("exited")
			return
		}

		warn(g.j, "counter", err)
		return
	}

	g.j.Write(&EventSample{
		PID:       id.PID,
		Count:     count,
		Threshold: g.cfg.Threshold,
		Trigger:   trigger.Kind.String(),
	})

	sample := Sample{PID: id.PID, Count: count, Time: g.now()}

	action, state, _ := g.controller.Evaluate(sample, g.state)
	g.state = state

	switch action {
	case ActionRestarted, ActionRestartFailed:
		// The PID is either gone or about to be; resolve it again next cycle.
		g.target.Invalidate()
	}
}

// resolve looks the target up and moves the notifier along with it.
func (g *Guard) resolve() (Identity, bool) {
	pid, found, err := g.locator.Resolve(g.target.Name)
	if err != nil {
		warn(g.j, "locator", err)
		return Identity{}, false
	}

	if !found {
		g.lose("not running")
		return Identity{}, false
	}

	id, changed := g.target.Set(pid)
	if changed {
		g.j.Write(&EventTargetResolved{
			Name:       g.target.Name,
			PID:        id.PID,
			Generation: id.Generation,
		})
		g.notifier.Follow(id)
	}

	return id, true
}

// lose forgets the target, if it was known.
func (g *Guard) lose(reason string) {
	old, ok := g.target.Clear()
	if !ok {
		return
	}

	g.j.Write(&EventTargetLost{
		Name:   g.target.Name,
		PID:    old.PID,
		Reason: reason,
	})
	g.notifier.Follow(Identity{})
}
