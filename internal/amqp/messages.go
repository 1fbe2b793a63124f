package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/core"
)

// MessageVersion is bumped when EventMessage changes incompatibly.
const MessageVersion = 1

// EventMessage is the wire form of a core.Event.
type EventMessage struct {
	ID         string            `json:"id"`
	Version    int               `json:"version"`
	Type       core.EventType    `json:"type"`
	OwnerID    string            `json:"owner_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func NewEventMessage(e core.Event) *EventMessage {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return &EventMessage{
		ID:         uuid.NewString(),
		Version:    MessageVersion,
		Type:       e.Type,
		OwnerID:    e.OwnerID,
		Attributes: e.Attributes,
		OccurredAt: occurred,
	}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
