package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the discriminant tag on every envelope crossing the socket.
type EventType string

// Server -> client event types.
const (
	EventConnected          EventType = "connected"
	EventTicketCreated      EventType = "ticket:created"
	EventTicketUpdated      EventType = "ticket:updated"
	EventTicketComment      EventType = "ticket:comment"
	EventKnowledgeCreated   EventType = "knowledge:created"
	EventAIResponse         EventType = "ai:response"
	EventTeamUpdate         EventType = "team:update"
	EventUserUpdate         EventType = "user:update"
	EventSystemNotification EventType = "system:notification"
)

// Client -> server message types.
const (
	MessageAuth        EventType = "auth"
	MessageSubscribe   EventType = "subscribe"
	MessageUnsubscribe EventType = "unsubscribe"
)

// Envelope is the flat frame exchanged in both directions:
// {"type": ..., "data": ..., "timestamp": ...}.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Event is an immutable description of a server-side state change,
// created by the component that performed the mutation and consumed
// once by the dispatcher. It is never persisted.
type Event struct {
	Type EventType
	Data any
	At   time.Time
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data, At: time.Now().UTC()}
}

// Encode serializes the event into its wire envelope.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", e.Type, err)
	}
	return json.Marshal(Envelope{
		Type:      e.Type,
		Data:      data,
		Timestamp: e.At.Format(time.RFC3339),
	})
}

// ResourceID is a resource identifier crossing the socket. This system
// always emits string ids, but the decoder also tolerates bare JSON
// numbers so routing keeps working against emitters that send
// {"id": 42}.
type ResourceID string

// String returns the id as a plain string.
func (id ResourceID) String() string { return string(id) }

// UnmarshalJSON accepts both string and numeric ids.
func (id *ResourceID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ResourceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ResourceID(n.String())
	return nil
}

// AuthData is the payload of a client "auth" message.
type AuthData struct {
	UserID string `json:"userId"`
}

// SubscriptionData is the payload of "subscribe" and "unsubscribe".
type SubscriptionData struct {
	TicketID string `json:"ticketId"`
}

// ConnectedData acknowledges a completed handshake.
type ConnectedData struct {
	ConnectionID string `json:"connectionId"`
}

// TicketChanges carries the mutated fields of a ticket update. Only
// the fields the client's invalidation logic inspects are typed.
type TicketChanges struct {
	Status string `json:"status,omitempty"`
}

// TicketCreatedData is the payload of "ticket:created".
type TicketCreatedData struct {
	ID           ResourceID `json:"id"`
	TicketNumber string     `json:"ticketNumber"`
	Title        string     `json:"title,omitempty"`
	AssigneeID   string     `json:"assigneeId,omitempty"`
}

// TicketUpdatedData is the payload of "ticket:updated".
type TicketUpdatedData struct {
	ID           ResourceID    `json:"id"`
	TicketNumber string        `json:"ticketNumber"`
	Changes      TicketChanges `json:"changes"`
}

// TicketCommentData is the payload of "ticket:comment".
type TicketCommentData struct {
	TicketID     ResourceID `json:"ticketId"`
	TicketNumber string     `json:"ticketNumber"`
	CommentID    string     `json:"commentId"`
	AuthorID     string     `json:"authorId,omitempty"`
	IsReply      bool       `json:"isReply"`
}

// KnowledgeCreatedData is the payload of "knowledge:created".
type KnowledgeCreatedData struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// AIResponseData is the payload of "ai:response". Confidence is in 0..1.
type AIResponseData struct {
	TicketID   ResourceID `json:"ticketId"`
	Confidence float64    `json:"confidence"`
	Summary    string     `json:"summary,omitempty"`
}

// TeamUpdateData is the payload of "team:update".
type TeamUpdateData struct {
	ID string `json:"id"`
}

// UserUpdateData is the payload of "user:update".
type UserUpdateData struct {
	ID string `json:"id"`
}

// SystemNotificationData is the payload of "system:notification".
type SystemNotificationData struct {
	Message string `json:"message"`
}
