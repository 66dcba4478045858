package model

import "time"

// Message - одно сообщение в переписке. Удаление мягкое: строка остаётся,
// но содержимое удалённого сообщения наружу не отдаётся (см. Redacted).
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	ReceiverID     string         `json:"receiver_id"`
	Content        string         `json:"content"`
	IsRead         bool           `json:"is_read"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	IsDeleted      bool           `json:"is_deleted"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	DeletedBy      *string        `json:"deleted_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sender         *ProfilePublic `json:"sender,omitempty"`
}

// Redacted returns a copy safe to hand to clients: deleted messages lose their content.
func (m Message) Redacted() Message {
	if m.IsDeleted {
		m.Content = ""
	}
	return m
}

// Preview строит превью для списка переписок.
func (m Message) Preview() *MessagePreview {
	r := m.Redacted()
	return &MessagePreview{
		ID:        r.ID,
		Content:   r.Content,
		SenderID:  r.SenderID,
		IsDeleted: r.IsDeleted,
		CreatedAt: r.CreatedAt,
	}
}
