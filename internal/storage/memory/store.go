// Package memory: хранилище в памяти с тем же контрактом, что и repository.
// Используется в тестах сервисов, слушателя и хендлеров.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

type failure struct {
	err   error
	times int
}

type db struct {
	mu            sync.RWMutex
	seq           int64
	conversations map[string]model.Conversation
	messages      map[string]storedMessage
	notifications map[string]model.Notification
	profiles      map[string]model.Profile
	projects      map[string]model.ProjectSummary
	failures      map[string]*failure
}

type storedMessage struct {
	model.Message
	seq int64
}

// Store группирует реализации интерфейсов storage над общими данными.
type Store struct {
	Conversations *ConversationStore
	Messages      *MessageStore
	Notifications *NotificationStore
	Profiles      *ProfileStore
	Projects      *ProjectStore

	d *db
}

func New() *Store {
	d := &db{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]storedMessage),
		notifications: make(map[string]model.Notification),
		profiles:      make(map[string]model.Profile),
		projects:      make(map[string]model.ProjectSummary),
		failures:      make(map[string]*failure),
	}
	return &Store{
		Conversations: &ConversationStore{d: d},
		Messages:      &MessageStore{d: d},
		Notifications: &NotificationStore{d: d},
		Profiles:      &ProfileStore{d: d},
		Projects:      &ProjectStore{d: d},
		d:             d,
	}
}

// FailNext заставляет следующие times вызовов операции op (например "messages.Create")
// вернуть err.
func (s *Store) FailNext(op string, err error, times int) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.failures[op] = &failure{err: err, times: times}
}

func (s *Store) AddProfile(p model.Profile) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.profiles[p.ID] = p
}

func (s *Store) AddProject(p model.ProjectSummary) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.projects[p.ID] = p
}

// AddNotification эмулирует вставку уведомления внешним триггером.
func (s *Store) AddNotification(n model.Notification) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.notifications[n.ID] = n
}

// SetConversationStatus is a test hook for lifecycle transitions.
func (s *Store) SetConversationStatus(id string, status model.ConversationStatus) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if c, ok := s.d.conversations[id]; ok {
		c.Status = status
		s.d.conversations[id] = c
	}
}

// RawMessage возвращает строку как она лежит в хранилище, без редактирования содержимого.
func (s *Store) RawMessage(id string) (model.Message, bool) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()
	m, ok := s.d.messages[id]
	return m.Message, ok
}

// check вызывается под блокировкой.
func (d *db) check(op string) error {
	f, ok := d.failures[op]
	if !ok || f.times <= 0 {
		return nil
	}
	f.times--
	if f.times == 0 {
		delete(d.failures, op)
	}
	return f.err
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

type ConversationStore struct{ d *db }

func (s *ConversationStore) ListActive(ctx context.Context, userID string, role model.Role) ([]model.Conversation, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("conversations.ListActive"); err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, 8)
	for _, c := range s.d.conversations {
		if c.Status != model.ConversationActive {
			continue
		}
		if role == model.RoleClient && c.ClientID != userID {
			continue
		}
		if role == model.RoleProfessional && c.ProfessionalID != userID {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("conversations.GetByID"); err != nil {
		return nil, err
	}
	c, ok := s.d.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (s *ConversationStore) GetOrCreate(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("conversations.GetOrCreate"); err != nil {
		return nil, false, err
	}
	for _, existing := range s.d.conversations {
		if existing.ClientID == c.ClientID && existing.ProfessionalID == c.ProfessionalID && existing.ProjectID == c.ProjectID {
			found := existing
			return &found, false, nil
		}
	}
	created := *c
	s.d.conversations[c.ID] = created
	return &created, true, nil
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("conversations.TouchLastMessage"); err != nil {
		return err
	}
	c, ok := s.d.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	t := at
	c.LastMessageAt = &t
	s.d.conversations[id] = c
	return nil
}

type MessageStore struct{ d *db }

func (s *MessageStore) Create(ctx context.Context, m *model.Message) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.Create"); err != nil {
		return err
	}
	s.d.seq++
	cp := *m
	cp.Sender = nil
	s.d.messages[m.ID] = storedMessage{Message: cp, seq: s.d.seq}
	return nil
}

func (s *MessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.GetByID"); err != nil {
		return nil, err
	}
	m, ok := s.d.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := m.Message
	return &out, nil
}

func (d *db) sortedMessages(filter func(model.Message) bool, newestFirst bool) []model.Message {
	picked := make([]storedMessage, 0, 16)
	for _, m := range d.messages {
		if filter(m.Message) {
			picked = append(picked, m)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		a, b := picked[i], picked[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.seq > b.seq
		}
		return a.seq < b.seq
	})
	out := make([]model.Message, len(picked))
	for i := range picked {
		out[i] = picked[i].Message
	}
	return out
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.ListByConversation"); err != nil {
		return nil, err
	}
	return s.d.sortedMessages(func(m model.Message) bool {
		return m.ConversationID == conversationID
	}, false), nil
}

func (s *MessageStore) ListRecentByConversations(ctx context.Context, conversationIDs []string) ([]model.Message, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.ListRecentByConversations"); err != nil {
		return nil, err
	}
	set := idSet(conversationIDs)
	return s.d.sortedMessages(func(m model.Message) bool {
		_, ok := set[m.ConversationID]
		return ok
	}, true), nil
}

func (s *MessageStore) ListUnreadForReceiver(ctx context.Context, receiverID string, conversationIDs []string) ([]model.Message, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.ListUnreadForReceiver"); err != nil {
		return nil, err
	}
	set := idSet(conversationIDs)
	return s.d.sortedMessages(func(m model.Message) bool {
		_, ok := set[m.ConversationID]
		return ok && m.ReceiverID == receiverID && !m.IsRead
	}, true), nil
}

func (s *MessageStore) MarkRead(ctx context.Context, receiverID string, ids []string) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.MarkRead"); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		m, ok := s.d.messages[id]
		if !ok || m.ReceiverID != receiverID || m.IsRead {
			continue
		}
		m.IsRead = true
		s.d.messages[id] = m
		n++
	}
	return n, nil
}

func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID, receiverID string) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.MarkConversationRead"); err != nil {
		return 0, err
	}
	n := 0
	for id, m := range s.d.messages {
		if m.ConversationID != conversationID || m.ReceiverID != receiverID || m.IsRead {
			continue
		}
		m.IsRead = true
		s.d.messages[id] = m
		n++
	}
	return n, nil
}

// ownedLive проверяет владельца и неудалённость; вызывается под блокировкой.
func (d *db) ownedLive(id, senderID string) (storedMessage, error) {
	m, ok := d.messages[id]
	if !ok {
		return storedMessage{}, storage.ErrNotFound
	}
	if m.SenderID != senderID {
		return storedMessage{}, storage.ErrNotOwner
	}
	if m.IsDeleted {
		return storedMessage{}, storage.ErrMessageDeleted
	}
	return m, nil
}

func (s *MessageStore) UpdateContent(ctx context.Context, id, senderID, content string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.UpdateContent"); err != nil {
		return err
	}
	m, err := s.d.ownedLive(id, senderID)
	if err != nil {
		return err
	}
	t := at
	m.Content = content
	m.EditedAt = &t
	s.d.messages[id] = m
	return nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, id, senderID string, at time.Time, erase bool) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("messages.SoftDelete"); err != nil {
		return err
	}
	m, err := s.d.ownedLive(id, senderID)
	if err != nil {
		return err
	}
	t := at
	by := senderID
	m.IsDeleted = true
	m.DeletedAt = &t
	m.DeletedBy = &by
	if erase {
		m.Content = ""
	}
	s.d.messages[id] = m
	return nil
}

type NotificationStore struct{ d *db }

func (s *NotificationStore) ListRecent(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("notifications.ListRecent"); err != nil {
		return nil, err
	}
	out := make([]model.Notification, 0, limit)
	for _, n := range s.d.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("notifications.CountUnread"); err != nil {
		return 0, err
	}
	n := 0
	for _, item := range s.d.notifications {
		if item.UserID == userID && !item.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("notifications.MarkRead"); err != nil {
		return err
	}
	n, ok := s.d.notifications[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	if !n.IsRead {
		n.IsRead = true
		n.UpdatedAt = at
		s.d.notifications[id] = n
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("notifications.MarkAllRead"); err != nil {
		return 0, err
	}
	count := 0
	for id, n := range s.d.notifications {
		if n.UserID != userID || n.IsRead {
			continue
		}
		n.IsRead = true
		n.UpdatedAt = at
		s.d.notifications[id] = n
		count++
	}
	return count, nil
}

func (s *NotificationStore) Delete(ctx context.Context, id, userID string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("notifications.Delete"); err != nil {
		return err
	}
	n, ok := s.d.notifications[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.d.notifications, id)
	return nil
}

type ProfileStore struct{ d *db }

func (s *ProfileStore) GetByIDs(ctx context.Context, ids []string) ([]model.Profile, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("profiles.GetByIDs"); err != nil {
		return nil, err
	}
	out := make([]model.Profile, 0, len(ids))
	for id := range idSet(ids) {
		if p, ok := s.d.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type ProjectStore struct{ d *db }

func (s *ProjectStore) GetByIDs(ctx context.Context, ids []string) ([]model.ProjectSummary, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.check("projects.GetByIDs"); err != nil {
		return nil, err
	}
	out := make([]model.ProjectSummary, 0, len(ids))
	for id := range idSet(ids) {
		if p, ok := s.d.projects[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

var (
	_ storage.ConversationStore = (*ConversationStore)(nil)
	_ storage.MessageStore      = (*MessageStore)(nil)
	_ storage.NotificationStore = (*NotificationStore)(nil)
	_ storage.ProfileStore      = (*ProfileStore)(nil)
	_ storage.ProjectStore      = (*ProjectStore)(nil)
)
