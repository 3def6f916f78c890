// Package fanout delivers live conversation events to connected subscribers.
//
// Redis pub/sub is the single cross-instance transport: every mutation is
// published to the conversation's channel and every server instance relays
// what it receives to its locally connected sinks. There is no second
// in-process-only path, so all instances observe the same stream.
package fanout

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventNewMessage    EventType = "NEW_MESSAGE"
	EventTypingStart   EventType = "TYPING_START"
	EventTypingStop    EventType = "TYPING_STOP"
	EventMessageViewed EventType = "MESSAGE_VIEWED"
	EventMessagesRead  EventType = "MESSAGES_READ"
	EventStatusUpdate  EventType = "STATUS_UPDATE"
)

// Event is one frame on a conversation's live stream. For NEW_MESSAGE the
// At field carries the envelope's createdAt and orders catch-up against
// live delivery, and EnvelopeID identifies the envelope so equal
// timestamps stay distinguishable; typing and status events are transient
// signals that are never persisted and never replayed.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	EnvelopeID     uuid.UUID       `json:"envelope_id"`
	At             time.Time       `json:"at"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload.
func NewEvent(t EventType, conversationID uuid.UUID, at time.Time, payload any) (Event, error) {
	ev := Event{Type: t, ConversationID: conversationID, At: at}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = raw
	}
	return ev, nil
}

// StatusPayload is the body of STATUS_UPDATE presence events.
type StatusPayload struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"` // "online" or "offline"
}

// TypingPayload is the body of TYPING_START / TYPING_STOP events.
type TypingPayload struct {
	UserID int64 `json:"user_id"`
}
