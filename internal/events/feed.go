package events

import (
	"context"
	"sync"

	"github.com/rflorenc/state-handoff/internal/models"
)

// Feed is an in-memory thread-safe event log, one ordered list per instance.
type Feed struct {
	mu     sync.RWMutex
	events map[models.Addr][]Event
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{events: make(map[models.Addr][]Event)}
}

// Publish appends e to its instance's log.
func (f *Feed) Publish(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.Instance] = append(f.events[e.Instance], e)
	return nil
}

// Since returns the events of instance starting from the given index.
func (f *Feed) Since(instance models.Addr, offset int) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	log := f.events[instance]
	if offset >= len(log) {
		return nil
	}
	out := make([]Event, len(log)-offset)
	copy(out, log[offset:])
	return out
}

// All returns every event of instance.
func (f *Feed) All(instance models.Addr) []Event {
	return f.Since(instance, 0)
}
