package x11guard

// Identity refers to one incarnation of the target. It is a weak reference:
// holding it never keeps the target resolved, and it stops matching as soon as
// the Target moves on to another generation.
type Identity struct {
	PID        int
	Generation uint64
}

// Valid returns true if the identity refers to a process.
func (id Identity) Valid() bool {
	return id.PID > 0
}

// Target is the single slot holding the monitored application. Every change
// of its PID, including losing it, starts a new generation.
//
// A Target is owned by the guard loop and is not safe for concurrent use.
type Target struct {
	Name    string
	Command string

	pid        int
	generation uint64
	stale      bool
}

// NewTarget creates an unresolved target.
func NewTarget(name, command string) *Target {
	return &Target{Name: name, Command: command}
}

// Identity returns the current identity. ok is false while unresolved.
func (t *Target) Identity() (id Identity, ok bool) {
	if t.pid == 0 {
		return Identity{}, false
	}
	return Identity{PID: t.pid, Generation: t.generation}, true
}

// Set records pid as the target's PID. A new generation starts unless pid is
// already the current, non-stale PID. changed reports whether it did.
func (t *Target) Set(pid int) (id Identity, changed bool) {
	if pid == t.pid && !t.stale {
		return Identity{PID: t.pid, Generation: t.generation}, false
	}

	t.pid = pid
	t.generation++
	t.stale = false

	return Identity{PID: t.pid, Generation: t.generation}, true
}

// Clear forgets the PID and returns the identity it had. ok is false if the
// target was already unresolved, in which case nothing changes.
func (t *Target) Clear() (old Identity, ok bool) {
	old, ok = t.Identity()
	if !ok {
		return Identity{}, false
	}

	t.pid = 0
	t.generation++
	t.stale = false

	return old, true
}

// Invalidate marks the current PID as stale, forcing it to be resolved again
// on the next cycle.
func (t *Target) Invalidate() {
	t.stale = true
}

// Stale returns true if the PID must be resolved again before use.
func (t *Target) Stale() bool {
	return t.stale
}

// Owns returns true if id refers to the current generation of the target.
func (t *Target) Owns(id Identity) bool {
	return t.pid != 0 && !t.stale && id.PID == t.pid && id.Generation == t.generation
}
