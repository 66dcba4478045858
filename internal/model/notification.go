package model

import "time"

type NotificationType string

const (
	NotificationNewApplication      NotificationType = "new_application"
	NotificationApplicationAccepted NotificationType = "application_accepted"
	NotificationApplicationRejected NotificationType = "application_rejected"
	NotificationNewMessage          NotificationType = "new_message"
	NotificationProjectMatched      NotificationType = "project_matched"
	NotificationSystem              NotificationType = "system"
)

// Notification принадлежит ровно одному пользователю. Строки создаются внешними триггерами;
// здесь они только читаются, помечаются прочитанными и удаляются.
type Notification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	RelatedID   *string          `json:"related_id,omitempty"`
	RelatedType *string          `json:"related_type,omitempty"`
	IsRead      bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NotificationView is a notification translated for display.
type NotificationView struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Link      string           `json:"link,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
