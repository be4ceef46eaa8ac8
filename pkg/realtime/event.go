package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/ripple/pkg/errors"
)

// EventType identifies the kind of realtime event. The type tag uniquely
// determines the shape of the event's data payload.
type EventType string

const (
	EventChatMessage      EventType = "chat.message"
	EventChatChunk        EventType = "chat.chunk"
	EventChatTyping       EventType = "chat.typing"
	EventConnectionStatus EventType = "connection.status"
	EventNotification     EventType = "notification"
	EventDataUpdate       EventType = "data.update"
	EventSyncStatus       EventType = "sync.status"
	EventFlagUpdate       EventType = "flag.update"
	EventAuthStatus       EventType = "auth.status"

	// EventRaw wraps payloads that are not valid JSON envelopes.
	EventRaw EventType = "raw"

	// Control types are reserved for liveness tracking. They are consumed
	// by the transport and never reach subscriber listeners.
	EventPing      EventType = "ping"
	EventPong      EventType = "pong"
	EventHeartbeat EventType = "heartbeat"

	// Wildcard subscribes a listener to every event type.
	Wildcard EventType = "*"
)

// Event is the wire envelope for everything the backend pushes.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IsControl reports whether the event is a reserved control message.
func (e Event) IsControl() bool {
	switch e.Type {
	case EventPing, EventPong, EventHeartbeat:
		return true
	}
	return false
}

// ChatMessagePayload is the data shape for chat.message events.
type ChatMessagePayload struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId,omitempty"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
}

// ChatChunkPayload is the data shape for chat.chunk events: an incremental
// piece of a streamed assistant response.
type ChatChunkPayload struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
	Done      bool   `json:"done,omitempty"`
}

// TypingPayload is the data shape for chat.typing events.
type TypingPayload struct {
	ChannelID string `json:"channelId,omitempty"`
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
}

// ConnectionStatusPayload is the data shape for connection.status events.
type ConnectionStatusPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// NotificationPayload is the data shape for notification events.
type NotificationPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Severity string `json:"severity,omitempty"`
	Link     string `json:"link,omitempty"`
}

// DataUpdatePayload is the data shape for data.update events: an entity
// changed server-side and consumers should refresh.
type DataUpdatePayload struct {
	Entity string          `json:"entity"`
	Action string          `json:"action"` // created | updated | deleted
	Record json.RawMessage `json:"record,omitempty"`
}

// SyncStatusPayload is the data shape for sync.status events.
type SyncStatusPayload struct {
	Resource string `json:"resource"`
	State    string `json:"state"` // syncing | synced | failed
	Progress int    `json:"progress,omitempty"`
}

// FlagUpdatePayload is the data shape for flag.update events.
type FlagUpdatePayload struct {
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
}

// AuthStatusPayload is the data shape for auth.status events.
type AuthStatusPayload struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	ExpiresAt     int64  `json:"expiresAt,omitempty"`
}

// decodePayload unmarshals the event data after checking the type tag.
func decodePayload[T any](e Event, want EventType) (T, error) {
	var out T
	if e.Type != want {
		return out, errors.New(errors.ErrCodeMalformedEvent, "event type mismatch").
			WithContext("want", string(want)).
			WithContext("got", string(e.Type))
	}
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return out, errors.Wrap(err, errors.ErrCodeMalformedEvent, "decode event payload").
			WithContext("type", string(e.Type))
	}
	return out, nil
}

// ChatMessage decodes the payload of a chat.message event.
func (e Event) ChatMessage() (ChatMessagePayload, error) {
	return decodePayload[ChatMessagePayload](e, EventChatMessage)
}

// ChatChunk decodes the payload of a chat.chunk event.
func (e Event) ChatChunk() (ChatChunkPayload, error) {
	return decodePayload[ChatChunkPayload](e, EventChatChunk)
}

// Typing decodes the payload of a chat.typing event.
func (e Event) Typing() (TypingPayload, error) {
	return decodePayload[TypingPayload](e, EventChatTyping)
}

// ConnectionStatus decodes the payload of a connection.status event.
func (e Event) ConnectionStatus() (ConnectionStatusPayload, error) {
	return decodePayload[ConnectionStatusPayload](e, EventConnectionStatus)
}

// Notification decodes the payload of a notification event.
func (e Event) Notification() (NotificationPayload, error) {
	return decodePayload[NotificationPayload](e, EventNotification)
}

// DataUpdate decodes the payload of a data.update event.
func (e Event) DataUpdate() (DataUpdatePayload, error) {
	return decodePayload[DataUpdatePayload](e, EventDataUpdate)
}

// SyncStatus decodes the payload of a sync.status event.
func (e Event) SyncStatus() (SyncStatusPayload, error) {
	return decodePayload[SyncStatusPayload](e, EventSyncStatus)
}

// FlagUpdate decodes the payload of a flag.update event.
func (e Event) FlagUpdate() (FlagUpdatePayload, error) {
	return decodePayload[FlagUpdatePayload](e, EventFlagUpdate)
}

// AuthStatus decodes the payload of an auth.status event.
func (e Event) AuthStatus() (AuthStatusPayload, error) {
	return decodePayload[AuthStatusPayload](e, EventAuthStatus)
}

// parseEvent turns a raw transport payload into an Event. JSON envelopes
// are decoded as-is; anything else is wrapped in a raw event so wildcard
// listeners still see it. Missing id/timestamp/sessionId are defaulted.
func parseEvent(raw []byte, sessionID string) Event {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Type == "" {
		data, _ := json.Marshal(string(raw))
		evt = Event{
			Type: EventRaw,
			Data: data,
		}
	}

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.SessionID == "" {
		evt.SessionID = sessionID
	}
	return evt
}
