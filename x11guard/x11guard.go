// Package x11guard is the core of the x11guard application. It watches how
// many X11 connections a single target application holds and restarts the
// application once that number exceeds a threshold, which works around
// applications that leak display connections until either they or the display
// server become unusable.
//
// # Mechanism of Operation
//
// A single Guard owns every component and runs one cooperative loop. Each
// iteration waits for the next Trigger from any of its sources:
//
//   - the Notifier, which watches the descriptor directory of the target
//     (/proc/<pid>/fd) and fires shortly after descriptors are opened or
//     closed;
//   - the fallback ticker of the Scheduler, which fires unconditionally and
//     bounds the detection latency when the notifier misses events;
//   - the scan ticker of the Scheduler, which also re-resolves the PID of the
//     target to notice restarts caused by something other than the guard.
//
// Every trigger runs exactly one control cycle: resolve the target if needed,
// count its display connections and hand the Sample to the Controller, which
// decides between doing nothing, skipping the restart because of the
// cooldown, reporting the restart in dry-run mode, or restarting.
//
// # Identity
//
// The Target holds the current PID together with a generation that is bumped
// every time the PID changes or is invalidated. The Notifier only holds an
// Identity (PID and generation), never the Target itself, so a trigger from an
// old subscription is recognized and dropped.
//
// # Journal
//
// Components never log directly. They write typed events into a Journaler,
// which the application fans out to the logger, an optional journal file and
// the metrics collectors.
package x11guard
