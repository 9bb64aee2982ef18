package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/marshal-client/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionSaved       EventType = "session.saved"
	EventSessionCleared     EventType = "session.cleared"
	EventLocaleChanged      EventType = "locale.changed"
	EventPushReceived       EventType = "push.received"
	EventPushOpened         EventType = "push.opened"
	EventPushTokenRefreshed EventType = "push.token_refreshed"
	EventPushDisplayed      EventType = "push.displayed"
	EventPushDataOnly       EventType = "push.data_only"
	EventInboxChanged       EventType = "inbox.changed"
)

// Event represents a state change emitted by a component.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with an id and the current time.
func New(eventType EventType, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// SessionSavedPayload payload. The token is never included.
type SessionSavedPayload struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
}

// SessionClearedPayload payload.
type SessionClearedPayload struct {
	Reason string `json:"reason"`
}

// LocaleChangedPayload payload.
type LocaleChangedPayload struct {
	Locale string `json:"locale"`
}

// PushMessagePayload carries a push message reported by the shell while the
// process is running (push.received, push.opened).
type PushMessagePayload struct {
	Message domain.PushPayload `json:"message"`
}

// PushTokenPayload payload. The token is the device push token, not the session token.
type PushTokenPayload struct {
	Token string `json:"token"`
}

// PushDisplayedPayload payload.
type PushDisplayedPayload struct {
	MessageID string                `json:"message_id"`
	Context   domain.ArrivalContext `json:"context"`
	Title     string                `json:"title"`
	Body      string                `json:"body"`
	EventID   *string               `json:"event_id,omitempty"`
}

// PushDataOnlyPayload payload.
type PushDataOnlyPayload struct {
	MessageID string            `json:"message_id"`
	Data      map[string]string `json:"data,omitempty"`
}

// InboxChangedPayload payload.
type InboxChangedPayload struct {
	Unread int `json:"unread"`
	Total  int `json:"total"`
}
