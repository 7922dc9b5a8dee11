package host

import (
	"sync"
)

// Event is something the host application announces to its plugins
type Event string

const (
	Shutdown   Event = "shutdown"    // Process is exiting
	ClearCache Event = "clear_cache" // User asked to drop cached data
)

// Listener is notified when an event it subscribed to fires.
// Both events mean the same thing to a cache: drop everything.
type Listener interface {
	OnClear()
}

// Bus delivers host events to subscribed listeners in subscription order
type Bus struct {
	mu        sync.Mutex
	listeners map[Event][]Listener
}

// NewBus creates a Bus with no subscribers
func NewBus() *Bus {
	return &Bus{listeners: make(map[Event][]Listener)}
}

// Subscribe adds l to ev. Subscribing the same listener twice delivers twice.
func (b *Bus) Subscribe(ev Event, l Listener) {
	b.mu.Lock()
	b.listeners[ev] = append(b.listeners[ev], l)
	b.mu.Unlock()
}

// Unsubscribe removes the first subscription of l to ev
func (b *Bus) Unsubscribe(ev Event, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[ev]
	for i, cur := range ls {
		if cur == l {
			b.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Fire calls OnClear on every listener of ev. Listeners run synchronously,
// outside the bus lock, so they may subscribe or unsubscribe.
func (b *Bus) Fire(ev Event) {
	b.mu.Lock()
	ls := append([]Listener(nil), b.listeners[ev]...)
	b.mu.Unlock()

	for _, l := range ls {
		l.OnClear()
	}
}
