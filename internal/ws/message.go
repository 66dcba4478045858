package ws

import (
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/service"
)

type EventType string

// Client -> server.
const (
	EventOpenThread    EventType = "open_thread"
	EventCloseThread   EventType = "close_thread"
	EventSendMessage   EventType = "send_message"
	EventEditMessage   EventType = "edit_message"
	EventDeleteMessage EventType = "delete_message"
	EventMarkRead      EventType = "mark_read"
	EventRefresh       EventType = "refresh"
)

// Server -> client.
const (
	EventThread         EventType = "thread"
	EventMessageNew     EventType = "message_new"
	EventMessageUpdated EventType = "message_updated"
	EventMessageSent    EventType = "message_sent"
	EventConversations  EventType = "conversations"
	EventNotifications  EventType = "notifications"
	EventError          EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content,omitempty"`

	// For edit/delete
	MessageID string `json:"message_id,omitempty"`

	// For mark_read
	MessageIDs []string `json:"message_ids,omitempty"`

	// ClientRef is echoed back on message_sent / error so the client can match
	// the reply to its pending input.
	ClientRef string `json:"client_ref,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ThreadPayload is the full history of the opened conversation.
type ThreadPayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// MessagePayload carries a single new or updated message.
type MessagePayload struct {
	ConversationID string         `json:"conversation_id"`
	Message        *model.Message `json:"message"`
	ClientRef      string         `json:"client_ref,omitempty"`
}

type ConversationsPayload struct {
	Conversations []model.ConversationSummary `json:"conversations"`
}

type NotificationsPayload = service.NotificationList

// ErrorPayload: code is one of service.Code values or "bad_request".
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"client_ref,omitempty"`
}
