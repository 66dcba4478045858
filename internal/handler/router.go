package handler

import (
	"github.com/go-chi/chi/v5"
)

// API группирует обработчики, требующие авторизованного пользователя с ролью.
type API struct {
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Notifications *NotificationHandler
	Push          *PushHandler
	Config        *ConfigHandler
	WS            *WSHandler
}

// Mount регистрирует маршруты. Авторизацию и роль вызывающий добавляет middleware на r.
func (a *API) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", a.Conversations.List)
			r.Post("/", a.Conversations.Open)
			r.Get("/unread", a.Conversations.Unread)
			r.Get("/{id}/messages", a.Conversations.Messages)
			r.Post("/{id}/messages", a.Conversations.Send)
		})
		r.Route("/messages/{id}", func(r chi.Router) {
			r.Put("/", a.Messages.Edit)
			r.Delete("/", a.Messages.Delete)
			r.Post("/read", a.Messages.MarkRead)
		})
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", a.Notifications.List)
			r.Post("/read-all", a.Notifications.MarkAllRead)
			r.Post("/{id}/read", a.Notifications.MarkRead)
			r.Delete("/{id}", a.Notifications.Delete)
		})
		if a.Push != nil {
			r.Post("/push/subscribe", a.Push.Subscribe)
			r.Delete("/push/subscribe", a.Push.Unsubscribe)
		}
		if a.Config != nil {
			r.Get("/config/messaging", a.Config.GetMessagingConfig)
		}
	})
	if a.WS != nil {
		r.Get("/ws", a.WS.ServeWS)
	}
}
