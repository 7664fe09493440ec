package listing

import (
	"context"

	"github.com/kilupskalvis/listings/internal/models"
)

// EventType names a successful mutation.
type EventType string

const (
	EventCreated             EventType = "house.created"
	EventUpdated             EventType = "house.updated"
	EventBought              EventType = "house.bought"
	EventDeleted             EventType = "house.deleted"
	EventAvailabilityChanged EventType = "house.availability_changed"
	EventPriceChanged        EventType = "house.price_changed"
)

// Event describes a committed change to a house.
type Event struct {
	Type      EventType     `json:"event"`
	HouseID   uint64        `json:"house_id"`
	Caller    string        `json:"caller,omitempty"`
	Timestamp uint64        `json:"timestamp"`
	House     *models.House `json:"house"`
}

// Notifier receives events after the change is persisted. Implementations
// must not block the caller for delivery.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Notifiers fans an event out to every member.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, e Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}
