package domain

import "time"

// NotificationRecord is one inbox entry as returned by the backend.
type NotificationRecord struct {
	ID        string    `json:"id"`
	TitleEn   string    `json:"title_en"`
	TitleAr   string    `json:"title_ar"`
	MessageEn string    `json:"message_en"`
	MessageAr string    `json:"message_ar"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	EventID   *string   `json:"event_id,omitempty"`
}

// ArrivalContext is the process state in which a push message arrived.
type ArrivalContext string

const (
	ArrivalForeground ArrivalContext = "foreground"
	ArrivalBackground ArrivalContext = "background"
	ArrivalColdStart  ArrivalContext = "cold_start"
)

// PushNotification is the renderable part of a push message.
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushPayload is the message shape delivered by the push provider.
type PushPayload struct {
	MessageID    string            `json:"messageId"`
	Notification *PushNotification `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	SentAt       *time.Time        `json:"sentTime,omitempty"`
}

// Renderable reports whether the payload carries a displayable body.
func (p PushPayload) Renderable() bool {
	return p.Notification != nil && (p.Notification.Title != "" || p.Notification.Body != "")
}

// DeliveryEvent is one observation of a push message in a given arrival context.
type DeliveryEvent struct {
	MessageID string
	Payload   PushPayload
	Context   ArrivalContext
}

// Route names a shell screen.
type Route string

const (
	RouteEventDetails  Route = "EventDetails"
	RouteNotifications Route = "Notifications"
)

// NavigationTarget is a resolved tap destination.
type NavigationTarget struct {
	Route  Route             `json:"route"`
	Params map[string]string `json:"params,omitempty"`
}
