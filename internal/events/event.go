// Package events records what committed host transactions did. Every
// instantiate and execute that commits produces one Event per touched
// instance; events are fanned out to publishers after the state is durable.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rflorenc/state-handoff/internal/models"
)

// Event types.
const (
	TypeInstantiate = "instantiate"
	TypeExecute     = "execute"
)

// Event describes one committed operation on one instance.
type Event struct {
	ID         string             `json:"id"`
	Instance   models.Addr        `json:"instance"`
	Kind       string             `json:"kind"`
	Type       string             `json:"type"`
	Sender     models.Addr        `json:"sender"`
	Attributes []models.Attribute `json:"attributes,omitempty"`
	Time       time.Time          `json:"time"`
}

// New creates an event with a fresh ID and the current time.
func New(instance models.Addr, kind, typ string, sender models.Addr, attrs []models.Attribute) Event {
	return Event{
		ID:         uuid.New().String(),
		Instance:   instance,
		Kind:       kind,
		Type:       typ,
		Sender:     sender,
		Attributes: attrs,
		Time:       time.Now().UTC(),
	}
}

// Attr returns the value of the first attribute named key.
func (e Event) Attr(key string) string {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Publisher receives committed events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
