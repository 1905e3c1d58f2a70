package realtime

import (
	"github.com/linkwell/linkwell/store/conversation"
	"github.com/linkwell/linkwell/store/message"
)

// EventType names a server-to-client push.
type EventType string

const (
	EventMessageCreated        EventType = "message.created"
	EventConversationRequested EventType = "conversation.requested"
	EventConversationAccepted  EventType = "conversation.accepted"
	EventConversationRejected  EventType = "conversation.rejected"
)

// Event is both the broker payload and the websocket frame.
type Event struct {
	Type           EventType                  `json:"type"`
	ConversationID string                     `json:"conversation_id"`
	Message        *message.Message           `json:"message,omitempty"`
	Conversation   *conversation.Conversation `json:"conversation,omitempty"`
}

// MessageCreated builds the push for a newly committed message.
func MessageCreated(m *message.Message) Event {
	return Event{Type: EventMessageCreated, ConversationID: m.ConversationID, Message: m}
}

// ConversationChanged builds the push for a consent state change.
func ConversationChanged(c *conversation.Conversation) Event {
	ev := Event{ConversationID: c.ID, Conversation: c}
	switch c.Status {
	case conversation.StatusAccepted:
		ev.Type = EventConversationAccepted
	case conversation.StatusRejected:
		ev.Type = EventConversationRejected
	default:
		ev.Type = EventConversationRequested
	}
	return ev
}

// clientFrame is an inbound websocket frame.
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

const (
	frameJoin     = "join"
	frameSuppress = "suppress"
	framePing     = "ping"
)

var pongFrame = []byte(`{"type":"pong"}`)
