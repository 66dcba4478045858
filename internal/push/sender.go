package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/middleware"
)

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Sender отправляет Web Push на все подписки пользователя, подписанные VAPID.
// Подписки, на которые сервис браузера ответил 404/410, удаляются.
type Sender struct {
	store *SubscriptionStore
	opts  *webpush.Options
	send  sendFunc
}

// NewSender. keys == nil: отправка выключена, подписки продолжают сохраняться.
func NewSender(store *SubscriptionStore, keys *VAPIDKeys, subscriber string) *Sender {
	s := &Sender{store: store, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		s.opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return s
}

func (s *Sender) Enabled() bool { return s.opts != nil }

// Send возвращает число доставленных уведомлений.
func (s *Sender) Send(ctx context.Context, req NotifyRequest) (int, error) {
	defer logger.DeferLogDuration("push.Send", time.Now())()
	subs, err := s.store.List(ctx, req.UserID)
	if err != nil {
		return 0, err
	}
	if s.opts == nil || len(subs) == 0 {
		return 0, nil
	}
	payload, err := json.Marshal(map[string]any{"title": req.Title, "body": req.Body, "data": req.Data})
	if err != nil {
		return 0, fmt.Errorf("push.Send: %w", err)
	}
	sent := 0
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := s.send(ctx, payload, wpSub, s.opts)
		if err != nil {
			logger.Warnf("push send %s: %v", middleware.MaskEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			if err := s.store.Remove(ctx, req.UserID, sub.Endpoint); err != nil {
				logger.Warnf("push drop expired %s: %v", middleware.MaskEndpoint(sub.Endpoint), err)
			}
		case resp.StatusCode >= 300:
			logger.Warnf("push send %s: status %d", middleware.MaskEndpoint(sub.Endpoint), resp.StatusCode)
		default:
			sent++
		}
	}
	return sent, nil
}
