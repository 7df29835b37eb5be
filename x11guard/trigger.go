package x11guard

import "time"

// TriggerKind is the source of a Trigger.
type TriggerKind uint8

const (
	// TriggerDescriptorChange is sent by the Notifier after the descriptor
	// table of the target changed.
	TriggerDescriptorChange TriggerKind = iota
	// TriggerFallbackTick is sent every fallback poll interval.
	TriggerFallbackTick
	// TriggerScanTick is sent every scan interval and forces the target to be
	// resolved again.
	TriggerScanTick
	// TriggerShutdown stops the guard loop.
	TriggerShutdown
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerDescriptorChange:
		return "descriptor-change"
	case TriggerFallbackTick:
		return "fallback"
	case TriggerScanTick:
		return "scan"
	case TriggerShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Trigger asks the guard loop to run a control cycle, or to stop.
type Trigger struct {
	Kind TriggerKind
	// Identity is the target the notifier was subscribed to. It is only set
	// for TriggerDescriptorChange.
	Identity Identity
	Time     time.Time
}
