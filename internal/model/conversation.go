package model

import "time"

type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProfessional
}

type ConversationReason string

const (
	ReasonApplication ConversationReason = "application"
	ReasonScout       ConversationReason = "scout"
)

type ConversationStatus string

const (
	ConversationPending ConversationStatus = "pending"
	ConversationActive  ConversationStatus = "active"
	ConversationClosed  ConversationStatus = "closed"
)

// Conversation: канал между клиентом и специалистом в рамках одного проекта.
// Тройка (ClientID, ProfessionalID, ProjectID) уникальна.
type Conversation struct {
	ID             string             `json:"id"`
	ClientID       string             `json:"client_id"`
	ProfessionalID string             `json:"professional_id"`
	ProjectID      string             `json:"project_id"`
	Reason         ConversationReason `json:"reason"`
	Status         ConversationStatus `json:"status"`
	LastMessageAt  *time.Time         `json:"last_message_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// IsParticipant проверяет, что userID: одна из двух сторон.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.ClientID || userID == c.ProfessionalID)
}

// Counterpart возвращает id второй стороны. Для постороннего пользователя: пустая строка.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.ClientID:
		return c.ProfessionalID
	case c.ProfessionalID:
		return c.ClientID
	}
	return ""
}

// MessagePreview is the last-message snippet shown in the conversation list.
type MessagePreview struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}

type ConversationSummary struct {
	Conversation Conversation    `json:"conversation"`
	Counterpart  *ProfilePublic  `json:"counterpart,omitempty"`
	Project      *ProjectSummary `json:"project,omitempty"`
	LastMessage  *MessagePreview `json:"last_message,omitempty"`
	UnreadCount  int             `json:"unread_count"`
}
