package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/promatch/internal/feed"
	"github.com/promatch/internal/model"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeed(t *testing.T) *Feed {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return New(cli)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "feed:messages:receiver_id:u1", Channel(feed.TableMessages, feed.ColumnReceiver, "u1"))
}

func TestPublishSubscribe(t *testing.T) {
	f := newFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []feed.Event
	_, err := f.Subscribe(ctx, feed.Filter{Table: feed.TableMessages, Op: feed.OpInsert, Column: feed.ColumnReceiver, Value: "c"},
		func(_ context.Context, e feed.Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
	require.NoError(t, err)

	msg := model.Message{ID: "m1", ConversationID: "conv", SenderID: "r", ReceiverID: "c", Content: "Hello", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.Publish(ctx, feed.MessageEvent(feed.OpUpdate, msg)))
	require.NoError(t, f.Publish(ctx, feed.MessageEvent(feed.OpInsert, msg)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got[0].Message)
	assert.Equal(t, "m1", got[0].Message.ID)
	assert.Equal(t, "Hello", got[0].Message.Content)
	assert.Equal(t, feed.OpInsert, got[0].Op)
}

func TestUnsubscribe(t *testing.T) {
	f := newFeed(t)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, feed.Filter{Table: feed.TableNotifications, Column: feed.ColumnUser, Value: "u"}, func(context.Context, feed.Event) {})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
}
