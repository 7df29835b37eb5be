package x11guard

// eventType describes an event type.
type eventType = string

const (
	eventWarning         eventType = "warning"
	eventAcquired        eventType = "acquired lock"
	eventStarted         eventType = "guard started"
	eventShutdown        eventType = "guard stopped"
	eventTargetResolved  eventType = "target resolved"
	eventTargetLost      eventType = "target lost"
	eventUnwatched       eventType = "target unwatched"
	eventSample          eventType = "sample"
	eventSkippedCooldown eventType = "skipped cooldown"
	eventWouldRestart    eventType = "would restart"
	eventRestarted       eventType = "restarted"
	eventRestartFailed   eventType = "restart failed"
)

// Event is an interface describing known events.
type Event interface {
	Type() string
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventWarning:
		return &EventWarning{}
	case eventAcquired:
		return &EventAcquired{}
	case eventStarted:
		return &EventStarted{}
	case eventShutdown:
		return &EventShutdown{}
	case eventTargetResolved:
		return &EventTargetResolved{}
	case eventTargetLost:
		return &EventTargetLost{}
	case eventUnwatched:
		return &EventUnwatched{}
	case eventSample:
		return &EventSample{}
	case eventSkippedCooldown:
		return &EventSkippedCooldown{}
	case eventWouldRestart:
		return &EventWouldRestart{}
	case eventRestarted:
		return &EventRestarted{}
	case eventRestartFailed:
		return &EventRestartFailed{}
	default:
		return nil
	}
}

// EventWarning is emitted when a non-fatal error occurs.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) event()       {}

// EventAcquired is emitted when the flock (i.e. write lock on the journal) is
// acquired, which is on startup.
type EventAcquired struct{}

func (ev *EventAcquired) Type() string { return eventAcquired }
func (ev *EventAcquired) event()       {}

// EventStarted is emitted once the guard loop starts.
type EventStarted struct {
	AppName   string `json:"app_name"`
	Display   string `json:"display"`
	Threshold int    `json:"threshold"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

func (ev *EventStarted) Type() string { return eventStarted }
func (ev *EventStarted) event()       {}

// EventShutdown is emitted when the guard loop returns.
type EventShutdown struct{}

func (ev *EventShutdown) Type() string { return eventShutdown }
func (ev *EventShutdown) event()       {}

// EventTargetResolved is emitted when the target is found under a new PID.
type EventTargetResolved struct {
	Name       string `json:"name"`
	PID        int    `json:"pid"`
	Generation uint64 `json:"generation"`
}

func (ev *EventTargetResolved) Type() string { return eventTargetResolved }
func (ev *EventTargetResolved) event()       {}

// EventTargetLost is emitted when a previously resolved target disappears.
type EventTargetLost struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	Reason string `json:"reason"`
}

func (ev *EventTargetLost) Type() string { return eventTargetLost }
func (ev *EventTargetLost) event()       {}

// EventUnwatched is emitted when the descriptor directory of the target cannot
// be watched, usually because the process exited in the meantime. Detection
// then relies on the tickers alone.
type EventUnwatched struct {
	PID   int    `json:"pid"`
	Error string `json:"error"`
}

func (ev *EventUnwatched) Type() string { return eventUnwatched }
func (ev *EventUnwatched) event()       {}

// EventSample is emitted for every connection count taken.
type EventSample struct {
	PID       int    `json:"pid"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Trigger   string `json:"trigger"`
}

// Exceeded returns true if the count is above the threshold.
func (ev EventSample) Exceeded() bool {
	return ev.Count > ev.Threshold
}

func (ev *EventSample) Type() string { return eventSample }
func (ev *EventSample) event()       {}

// EventSkippedCooldown is emitted when the threshold is exceeded within the
// cooldown of the previous restart.
type EventSkippedCooldown struct {
	PID       int     `json:"pid"`
	Count     int     `json:"count"`
	Threshold int     `json:"threshold"`
	Remaining float64 `json:"remaining_seconds"`
}

func (ev *EventSkippedCooldown) Type() string { return eventSkippedCooldown }
func (ev *EventSkippedCooldown) event()       {}

// EventWouldRestart is emitted instead of restarting in dry-run mode.
type EventWouldRestart struct {
	PID       int    `json:"pid"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Command   string `json:"command"`
}

func (ev *EventWouldRestart) Type() string { return eventWouldRestart }
func (ev *EventWouldRestart) event()       {}

// EventRestarted is emitted after the target has been stopped and its command
// launched again.
type EventRestarted struct {
	OldPID      int            `json:"old_pid"`
	NewPID      int            `json:"new_pid"`
	Count       int            `json:"count"`
	Threshold   int            `json:"threshold"`
	Command     string         `json:"command"`
	ForceKilled bool           `json:"force_killed,omitempty"`
	Lingering   bool           `json:"lingering,omitempty"`
	Phases      []RestartPhase `json:"phases"`
}

func (ev *EventRestarted) Type() string { return eventRestarted }
func (ev *EventRestarted) event()       {}

// EventRestartFailed is emitted when the restart sequence could not be
// completed. The cooldown is not started, so the next evaluation above the
// threshold retries.
type EventRestartFailed struct {
	PID    int            `json:"pid"`
	Count  int            `json:"count"`
	Error  string         `json:"error"`
	Phases []RestartPhase `json:"phases"`
}

func (ev *EventRestartFailed) Type() string { return eventRestartFailed }
func (ev *EventRestartFailed) event()       {}
