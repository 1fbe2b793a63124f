package core

import "time"

const (
	EventAllocationCarriedOver EventType = "allocation.carried_over"
	EventHighlightToggled      EventType = "highlight.toggled"
)

type (
	EventType string

	// Event is a notification about an engine-side write. Delivery is best
	// effort; nothing in the engine depends on it being observed.
	Event struct {
		Type       EventType         `json:"type"`
		OwnerID    string            `json:"owner_id"`
		Attributes map[string]string `json:"attributes,omitempty"`
		OccurredAt time.Time         `json:"occurred_at"`
	}
)

func NewEvent(t EventType, ownerID string, attrs map[string]string) Event {
	return Event{
		Type:       t,
		OwnerID:    ownerID,
		Attributes: attrs,
		OccurredAt: time.Now().UTC(),
	}
}
