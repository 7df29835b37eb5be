package x11guard

import (
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Notifier watches the descriptor directory of the target and sends a
// TriggerDescriptorChange shortly after it changes. Events arriving within
// the debounce window of the first one are merged, and triggers the guard has
// not consumed yet are coalesced into one.
type Notifier struct {
	w        *fsnotify.Watcher
	j        Journaler
	root     string
	debounce time.Duration

	triggers chan Trigger
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once

	mutex   sync.Mutex
	current Identity
	path    string
}

// NewNotifier creates a notifier for processes under the proc filesystem at
// root. It follows nothing until Follow is called.
func NewNotifier(root string, debounce time.Duration, j Journaler) (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}

	n := &Notifier{
		w:        w,
		j:        j,
		root:     root,
		debounce: debounce,
		triggers: make(chan Trigger, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go n.watch()

	return n, nil
}

// Triggers returns the channel of descriptor change triggers.
func (n *Notifier) Triggers() <-chan Trigger {
	return n.triggers
}

// Follow moves the subscription to id. An invalid identity only drops the
// current subscription. If the new directory cannot be watched, usually because
// the process has exited already, the notifier stays silent until the next
// call.
func (n *Notifier) Follow(id Identity) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if id == n.current {
		return
	}

	if n.path != "" {
		// The watch is gone already if the process exited.
		n.w.Remove(n.path)
		n.path = ""
	}

	n.current = id

	if !id.Valid() {
		return
	}

	path := filepath.Join(n.root, strconv.Itoa(id.PID), "fd")

	if err := n.w.Add(path); err != nil {
		n.j.Write(&EventUnwatched{
			PID:   id.PID,
			Error: err.Error(),
		})
		return
	}

	n.path = path
}

// Close stops the notifier. It is safe to call more than once.
func (n *Notifier) Close() error {
	var err error

	n.once.Do(func() {
		close(n.stop)
		<-n.done
		err = n.w.Close()
	})

	return err
}

func (n *Notifier) watch() {
	defer close(n.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	var pending Identity

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-n.stop:
			return

		case err, ok := <-n.w.Errors:
			if !ok {
				return
			}

			n.j.Write(&EventWarning{
				Component: "notifier",
				Error:     "inotify error: " + err.Error(),
			})

		case ev, ok := <-n.w.Events:
			if !ok {
				return
			}

			id, ok := n.match(ev)
			if !ok {
				continue
			}

			pending = id

			if timer == nil {
				timer = time.NewTimer(n.debounce)
				timerC = timer.C
			}

		case now := <-timerC:
			timer = nil
			timerC = nil

			if !n.following(pending) {
				continue
			}

			select {
			case n.triggers <- Trigger{Kind: TriggerDescriptorChange, Identity: pending, Time: now}:
			default:
				// A trigger is already pending.
			}
		}
	}
}

// match returns the identity an event belongs to. Events of directories that
// are no longer followed are dropped.
func (n *Notifier) match(ev fsnotify.Event) (Identity, bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.path == "" {
		return Identity{}, false
	}

	if ev.Name != n.path && filepath.Dir(ev.Name) != n.path {
		return Identity{}, false
	}

	return n.current, true
}

func (n *Notifier) following(id Identity) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return n.current == id && n.path != ""
}
