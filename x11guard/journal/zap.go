package journal

import (
	"git.unix.lgbt/diamondburned/x11guard/x11guard"
	"go.uber.org/zap"
)

// zapWriter logs events into a zap logger.
type zapWriter struct {
	l *zap.Logger
}

// NewZapWriter creates a journaler that logs every event into l. Samples are
// logged at debug level unless they exceed the threshold or come from the
// fallback poll, which acts as a periodic status line. Restart decisions are
// logged at warn level and failed restarts at error level.
func NewZapWriter(l *zap.Logger) x11guard.Journaler {
	return zapWriter{l}
}

var fallbackTrigger = x11guard.TriggerFallbackTick.String()

func (w zapWriter) Write(event x11guard.Event) error {
	switch ev := event.(type) {
	case *x11guard.EventWarning:
		w.l.Warn("non-fatal error",
			zap.String("component", ev.Component),
			zap.String("error", ev.Error))

	case *x11guard.EventAcquired:
		w.l.Debug("journal lock acquired")

	case *x11guard.EventStarted:
		w.l.Info("monitoring started",
			zap.String("app", ev.AppName),
			zap.String("display", ev.Display),
			zap.Int("threshold", ev.Threshold),
			zap.Bool("dry_run", ev.DryRun))

	case *x11guard.EventShutdown:
		w.l.Info("monitoring stopped")

	case *x11guard.EventTargetResolved:
		w.l.Info("target resolved",
			zap.String("app", ev.Name),
			zap.Int("pid", ev.PID),
			zap.Uint64("generation", ev.Generation))

	case *x11guard.EventTargetLost:
		w.l.Info("target lost",
			zap.String("app", ev.Name),
			zap.Int("pid", ev.PID),
			zap.String("reason", ev.Reason))

	case *x11guard.EventUnwatched:
		w.l.Debug("descriptor table not watched",
			zap.Int("pid", ev.PID),
			zap.String("error", ev.Error))

	case *x11guard.EventSample:
		level := w.l.Debug
		if ev.Trigger == fallbackTrigger || ev.Exceeded() {
			level = w.l.Info
		}

		level("x11 connections",
			zap.Int("pid", ev.PID),
			zap.Int("count", ev.Count),
			zap.Int("threshold", ev.Threshold),
			zap.String("trigger", ev.Trigger))

	case *x11guard.EventSkippedCooldown:
		w.l.Warn("threshold exceeded during cooldown, not restarting",
			zap.Int("pid", ev.PID),
			zap.Int("count", ev.Count),
			zap.Int("threshold", ev.Threshold),
			zap.Float64("remaining_seconds", ev.Remaining))

	case *x11guard.EventWouldRestart:
		w.l.Warn("threshold exceeded, dry run: not restarting",
			zap.Int("pid", ev.PID),
			zap.Int("count", ev.Count),
			zap.Int("threshold", ev.Threshold),
			zap.String("command", ev.Command))

	case *x11guard.EventRestarted:
		w.l.Warn("threshold exceeded, target restarted",
			zap.Int("old_pid", ev.OldPID),
			zap.Int("new_pid", ev.NewPID),
			zap.Int("count", ev.Count),
			zap.Int("threshold", ev.Threshold),
			zap.String("command", ev.Command),
			zap.Bool("force_killed", ev.ForceKilled),
			zap.Bool("lingering", ev.Lingering),
			zap.Any("phases", ev.Phases))

	case *x11guard.EventRestartFailed:
		w.l.Error("restart failed",
			zap.Int("pid", ev.PID),
			zap.Int("count", ev.Count),
			zap.String("error", ev.Error),
			zap.Any("phases", ev.Phases))

	default:
		w.l.Info(event.Type())
	}

	return nil
}
