// Package navigation turns a stream of page location observations into
// navigation events, one per distinct URL change.
package navigation

import (
	"sync"
	"time"

	"github.com/lotas/vidchat/internal/applog"
)

// Event is raised once per distinct URL change.
type Event struct {
	URL string
	At  time.Time
}

// Observer remembers the last URL it saw. Sources call Observe for every
// mutation batch or frame event; only changes reach Events.
type Observer struct {
	mu     sync.Mutex
	last   string
	events chan Event
	now    func() time.Time
}

// NewObserver creates an Observer with a buffered event channel.
func NewObserver() *Observer {
	return &Observer{
		events: make(chan Event, 64),
		now:    time.Now,
	}
}

// Seed sets the starting URL without emitting an event.
func (o *Observer) Seed(url string) {
	o.mu.Lock()
	o.last = url
	o.mu.Unlock()
}

// Observe records url and reports whether it differed from the last one.
// A differing URL emits exactly one Event. If the buffer is full the
// oldest pending event is dropped; the coordinator only cares about the
// latest location.
func (o *Observer) Observe(url string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if url == o.last {
		return false
	}
	o.last = url
	ev := Event{URL: url, At: o.now()}
	for {
		select {
		case o.events <- ev:
			applog.Info("nav.changed", "url", url)
			return true
		default:
		}
		select {
		case <-o.events:
			applog.Info("nav.dropped")
		default:
		}
	}
}

// Last returns the most recently observed URL.
func (o *Observer) Last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Events returns the channel of navigation events.
func (o *Observer) Events() <-chan Event {
	return o.events
}
