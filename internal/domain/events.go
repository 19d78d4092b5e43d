package domain

import "time"

// Websocket event types from client.
const (
	EventJoin    = "join"
	EventMessage = "message"
)

// Websocket event types to client.
const (
	EventNotification = "notification"
	EventError        = "error"
)

// Error codes carried by error events.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeTimeout          = "timeout"
)

// InboundEvent is any client -> server frame. Fields irrelevant to Type are
// ignored.
type InboundEvent struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
}

// MessageEvent carries a persisted message to every connected peer.
type MessageEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationEvent carries join/leave announcements.
type NotificationEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ErrorEvent reports a rejected client frame to that client only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessageEvent builds the broadcast frame for a persisted message.
func NewMessageEvent(m *Message) *MessageEvent {
	return &MessageEvent{
		Type:      EventMessage,
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// NewNotificationEvent builds a join/leave announcement.
func NewNotificationEvent(text string) *NotificationEvent {
	return &NotificationEvent{Type: EventNotification, Text: text}
}

// NewErrorEvent builds an error frame for the offending client.
func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Code: code, Message: message}
}
