// Package memory: Feed внутри одного процесса.
package memory

import (
	"context"
	"sync"

	"github.com/promatch/internal/feed"
)

const subBuffer = 64

type Feed struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

func New() *Feed {
	return &Feed{subs: make(map[uint64]*subscription)}
}

type subscription struct {
	f      *Feed
	id     uint64
	filter feed.Filter
	events chan feed.Event
	done   chan struct{}
	once   sync.Once
}

// Publish кладёт событие в буфер каждой подходящей подписки. Обработчики вызываются
// в горутинах подписок, поэтому обработчик может сам публиковать без взаимной блокировки.
func (f *Feed) Publish(ctx context.Context, e feed.Event) error {
	f.mu.RLock()
	targets := make([]*subscription, 0, len(f.subs))
	for _, s := range f.subs {
		if s.filter.Match(e) {
			targets = append(targets, s)
		}
	}
	f.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.events <- e:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Feed) Subscribe(ctx context.Context, filter feed.Filter, h feed.Handler) (feed.Subscription, error) {
	f.mu.Lock()
	f.nextID++
	s := &subscription{
		f:      f,
		id:     f.nextID,
		filter: filter,
		events: make(chan feed.Event, subBuffer),
		done:   make(chan struct{}),
	}
	f.subs[s.id] = s
	f.mu.Unlock()

	go s.run(ctx, h)
	return s, nil
}

func (s *subscription) run(ctx context.Context, h feed.Handler) {
	defer s.Unsubscribe()
	for {
		select {
		case e := <-s.events:
			h(ctx, e)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.subs, s.id)
		s.f.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Subscribers: число живых подписок.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

var _ feed.Feed = (*Feed)(nil)
