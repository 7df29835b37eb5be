package x11guard

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockJournal is an in-memory storage of journals, primarily used for testing.
// A zero-value instance is a valid instance.
type mockJournal struct {
	mutex    sync.Mutex
	finalize bool
	journals []Event
}

var _ Journaler = (*mockJournal)(nil)

// Finalize locks the memory store. Future writes will cause a panic.
func (m *mockJournal) Finalize() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.finalize = true
}

// Write appends a journal event into the internal store.
func (m *mockJournal) Write(ev Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.finalize {
		panic("log write when finalized")
	}

	m.journals = append(m.journals, ev)
	return nil
}

// Journals returns a copy of the journal slice.
func (m *mockJournal) Journals() []Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]Event(nil), m.journals...)
}

// Filter returns the journaled events with the given type, in order.
func (m *mockJournal) Filter(eventType string) []Event {
	var events []Event
	for _, ev := range m.Journals() {
		if ev.Type() == eventType {
			events = append(events, ev)
		}
	}
	return events
}

// Verify verifies that the given journals slice is equal to the one stored
// internally. If strict is true, then a length check is performed, otherwise,
// the unmatched events are returned.
//
// Consecutive calls to Verify will match the remaining unmatched events.
func (m *mockJournal) Verify(t *testing.T, strict bool, journals []Event) []Event {
	t.Helper()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if strict && len(journals) != len(m.journals) {
		t.Errorf("mismatch journal length, got %d, expected %d", len(m.journals), len(journals))
		return nil
	}

	if len(journals) > len(m.journals) {
		t.Errorf("missing journals, got %d, expected at least %d", len(m.journals), len(journals))
		return nil
	}

	for i, ev := range journals {
		if !reflect.DeepEqual(m.journals[i], ev) {
			t.Errorf("journal %d mismatch, got %#v, expected %#v", i, m.journals[i], ev)
		}
	}

	m.journals = m.journals[len(journals):]
	return m.journals
}

func TestNewEventUnknown(t *testing.T) {
	assert.Nil(t, NewEvent("process spawned"))
}

func TestNewEvent(t *testing.T) {
	events := []Event{
		&EventWarning{}, &EventAcquired{}, &EventStarted{}, &EventShutdown{},
		&EventTargetResolved{}, &EventTargetLost{}, &EventUnwatched{},
		&EventSample{}, &EventSkippedCooldown{}, &EventWouldRestart{},
		&EventRestarted{}, &EventRestartFailed{},
	}

	for _, ev := range events {
		assert.Equal(t, ev, NewEvent(ev.Type()), ev.Type())
	}
}
