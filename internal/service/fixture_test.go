package service

import (
	"context"
	"sync"
	"testing"
	"time"

	memfeed "github.com/promatch/internal/feed/memory"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage/memory"
)

const (
	clientID       = "client-c"
	professionalID = "pro-r"
	strangerID     = "stranger"
	projectP       = "project-p"
	projectP2      = "project-p2"
)

var fastRetry = RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}

// clock выдаёт строго возрастающее время, чтобы порядок сообщений был детерминирован.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func newClock() *clock {
	return &clock{cur: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type pushCall struct {
	userID, title, body string
	data                map[string]string
}

type fakePusher struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *fakePusher) Notify(_ context.Context, userID, title, body string, data map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{userID: userID, title: title, body: body, data: data})
}

func (p *fakePusher) snapshot() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushCall(nil), p.calls...)
}

type fixture struct {
	store  *memory.Store
	feed   *memfeed.Feed
	push   *fakePusher
	clock  *clock
	dir    *Directory
	thread *Thread
	notes  *NotificationCenter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.AddProfile(model.Profile{ID: clientID, DisplayName: "Client C", Role: model.RoleClient})
	store.AddProfile(model.Profile{ID: professionalID, DisplayName: "Pro R", Role: model.RoleProfessional})
	store.AddProfile(model.Profile{ID: strangerID, DisplayName: "Stranger", Role: model.RoleProfessional})
	store.AddProject(model.ProjectSummary{ID: projectP, Title: "Logo design", Status: "open"})
	store.AddProject(model.ProjectSummary{ID: projectP2, Title: "Landing page", Status: "open"})

	f := &fixture{store: store, feed: memfeed.New(), push: &fakePusher{}, clock: newClock()}
	f.dir = NewDirectory(store.Conversations, store.Messages, store.Profiles, store.Projects, fastRetry)
	f.dir.now = f.clock.Now
	f.thread = NewThread(store.Conversations, store.Messages, store.Profiles, f.feed, f.push, fastRetry, false)
	f.thread.now = f.clock.Now
	f.notes = NewNotificationCenter(store.Notifications, DefaultNotificationWindow, fastRetry)
	f.notes.now = f.clock.Now
	return f
}

// open создаёт активную переписку (C, R, project) и возвращает её id.
func (f *fixture) open(t *testing.T, project string) string {
	t.Helper()
	conv, _, err := f.dir.Open(context.Background(), clientID, model.RoleClient, OpenRequest{
		ProfessionalID: professionalID,
		ProjectID:      project,
		Reason:         model.ReasonApplication,
	})
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	return conv.ID
}
