package scanner

import "sync"

// LifecycleEvent is a process visibility change that must release the
// scanner device.
type LifecycleEvent int

const (
	// Hidden fires when the desk is backgrounded (SIGUSR1 in the CLI).
	Hidden LifecycleEvent = iota
	// Unload fires when the process is about to exit.
	Unload
)

func (e LifecycleEvent) String() string {
	switch e {
	case Hidden:
		return "hidden"
	case Unload:
		return "unload"
	}
	return "unknown"
}

// Lifecycle dispatches visibility events to registered listeners.
type Lifecycle struct {
	mu        sync.Mutex
	next      int
	listeners map[int]lifecycleListener
}

type lifecycleListener struct {
	event LifecycleEvent
	fn    func()
}

// NewLifecycle creates an empty Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{listeners: make(map[int]lifecycleListener)}
}

// On registers fn for event and returns the func that removes it.
func (l *Lifecycle) On(event LifecycleEvent, fn func()) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.listeners[id] = lifecycleListener{event: event, fn: fn}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.listeners, id)
			l.mu.Unlock()
		})
	}
}

// Emit runs every listener registered for event. Listeners run outside the
// lock and may remove themselves.
func (l *Lifecycle) Emit(event LifecycleEvent) {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.listeners))
	for _, ln := range l.listeners {
		if ln.event == event {
			fns = append(fns, ln.fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Listeners returns the number of registered listeners.
func (l *Lifecycle) Listeners() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listeners)
}
