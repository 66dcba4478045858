// Package pgnotify переносит события NOTIFY feed_events из Postgres в feed.Feed.
// Уведомления вставляются триггерами заявок и матчинга в обход API, поэтому узнать
// о них можно только от самой базы.
package pgnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/promatch/internal/feed"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
)

const Channel = "feed_events"

type payload struct {
	Table feed.Table      `json:"table"`
	Op    feed.Op         `json:"op"`
	Row   json.RawMessage `json:"row"`
}

// Decode разбирает JSON, который формирует notify_feed_notifications().
func Decode(raw string) (feed.Event, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return feed.Event{}, fmt.Errorf("pgnotify decode: %w", err)
	}
	e := feed.Event{Table: p.Table, Op: p.Op}
	switch p.Table {
	case feed.TableNotifications:
		var n model.Notification
		if err := json.Unmarshal(p.Row, &n); err != nil {
			return feed.Event{}, fmt.Errorf("pgnotify decode notification: %w", err)
		}
		e.Notification = &n
	case feed.TableMessages:
		var m model.Message
		if err := json.Unmarshal(p.Row, &m); err != nil {
			return feed.Event{}, fmt.Errorf("pgnotify decode message: %w", err)
		}
		e.Message = &m
	default:
		return feed.Event{}, fmt.Errorf("pgnotify decode: unknown table %q", p.Table)
	}
	return e, nil
}

type Bridge struct {
	dsn  string
	out  feed.Feed
	ping time.Duration
}

func NewBridge(dsn string, out feed.Feed) *Bridge {
	return &Bridge{dsn: dsn, out: out, ping: 90 * time.Second}
}

// Run слушает канал до отмены ctx. pq.Listener сам переподключается; после
// переподключения приходит nil-уведомление, и события за время обрыва теряются.
// Сессии догоняют состояние при следующем refetch.
func (b *Bridge) Run(ctx context.Context) error {
	l := pq.NewListener(b.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Errorf("pgnotify: listener event %d: %v", ev, err)
		case pq.ListenerEventReconnected:
			logger.Info("pgnotify: listener reconnected")
		}
	})
	defer l.Close()

	if err := l.Listen(Channel); err != nil {
		return fmt.Errorf("pgnotify listen %s: %w", Channel, err)
	}
	logger.Infof("pgnotify: listening on %s", Channel)

	ticker := time.NewTicker(b.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.Notify:
			if n == nil {
				continue
			}
			b.forward(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := l.Ping(); err != nil {
					logger.Errorf("pgnotify: ping: %v", err)
				}
			}()
		}
	}
}

func (b *Bridge) forward(ctx context.Context, raw string) {
	e, err := Decode(raw)
	if err != nil {
		logger.Errorf("%v", err)
		return
	}
	if err := b.out.Publish(ctx, e); err != nil {
		logger.Errorf("pgnotify: publish %s/%s: %v", e.Table, e.Op, err)
	}
}
