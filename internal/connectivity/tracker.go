package connectivity

import (
	"sync"
	"time"
)

// Monitor is the contract the sync scheduler and dispatcher depend on.
type Monitor interface {
	// IsOnline reports the current best-effort connectivity status.
	IsOnline() bool
	// OnReconnect registers handler to run once per offline to online
	// transition. The returned function unregisters it and is safe to call
	// more than once.
	OnReconnect(handler func()) (unregister func())
}

// Tracker stores connectivity state and notifies subscribers on transitions.
// Redundant observations of the current state are ignored.
type Tracker struct {
	mu        sync.Mutex
	online    bool
	since     time.Time
	nextID    uint64
	reconnect map[uint64]func()
	change    map[uint64]func(online bool)
}

// NewTracker returns a Tracker seeded with the given state.
func NewTracker(online bool) *Tracker {
	return &Tracker{
		online:    online,
		since:     time.Now(),
		reconnect: make(map[uint64]func()),
		change:    make(map[uint64]func(bool)),
	}
}

// IsOnline implements Monitor.
func (t *Tracker) IsOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Since returns when the current state was entered.
func (t *Tracker) Since() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.since
}

// Set records an observation. It returns true when the state changed. On an
// offline to online transition every reconnect handler runs once, in the
// caller's goroutine, after change observers.
func (t *Tracker) Set(online bool) bool {
	t.mu.Lock()
	if t.online == online {
		t.mu.Unlock()
		return false
	}
	t.online = online
	t.since = time.Now()
	changeHandlers := make([]func(bool), 0, len(t.change))
	for _, h := range t.change {
		changeHandlers = append(changeHandlers, h)
	}
	var reconnectHandlers []func()
	if online {
		reconnectHandlers = make([]func(), 0, len(t.reconnect))
		for _, h := range t.reconnect {
			reconnectHandlers = append(reconnectHandlers, h)
		}
	}
	t.mu.Unlock()

	for _, h := range changeHandlers {
		h(online)
	}
	for _, h := range reconnectHandlers {
		h()
	}
	return true
}

// seed overwrites the state without notifying anyone.
func (t *Tracker) seed(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.online != online {
		t.online = online
		t.since = time.Now()
	}
}

// OnReconnect implements Monitor.
func (t *Tracker) OnReconnect(handler func()) func() {
	if handler == nil {
		return func() {}
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.reconnect[id] = handler
	t.mu.Unlock()
	return t.unregister(func() { delete(t.reconnect, id) })
}

// OnChange registers an observer for every transition in either direction.
func (t *Tracker) OnChange(handler func(online bool)) func() {
	if handler == nil {
		return func() {}
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.change[id] = handler
	t.mu.Unlock()
	return t.unregister(func() { delete(t.change, id) })
}

func (t *Tracker) unregister(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			remove()
			t.mu.Unlock()
		})
	}
}
