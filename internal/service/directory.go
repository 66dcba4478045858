package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

// Directory: список переписок пользователя с превью, проектом, собеседником и счётчиком непрочитанных.
type Directory struct {
	convs    storage.ConversationStore
	msgs     storage.MessageStore
	profiles storage.ProfileStore
	projects storage.ProjectStore
	retry    RetryPolicy
	now      func() time.Time
}

func NewDirectory(convs storage.ConversationStore, msgs storage.MessageStore, profiles storage.ProfileStore, projects storage.ProjectStore, retry RetryPolicy) *Directory {
	return &Directory{convs: convs, msgs: msgs, profiles: profiles, projects: projects, retry: retry, now: time.Now}
}

// List собирает список за четыре пакетных запроса (переписки, профили, проекты,
// сообщения и непрочитанные). Любой сбой: ErrLoadFailed, частичный результат не отдаётся.
func (d *Directory) List(ctx context.Context, userID string, role model.Role) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("directory.List", time.Now())()
	if userID == "" {
		return nil, validationf("user id required")
	}
	if !role.Valid() {
		return nil, validationf("unknown role %q", role)
	}

	convs, err := retryRead(ctx, d.retry, "conversations.ListActive", func(ctx context.Context) ([]model.Conversation, error) {
		return d.convs.ListActive(ctx, userID, role)
	})
	if err != nil {
		return nil, mapReadErr("conversations", err)
	}
	out := make([]model.ConversationSummary, 0, len(convs))
	if len(convs) == 0 {
		return out, nil
	}

	convIDs := make([]string, 0, len(convs))
	counterpartIDs := make([]string, 0, len(convs))
	projectIDs := make([]string, 0, len(convs))
	seenUser := make(map[string]bool)
	seenProject := make(map[string]bool)
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
		if cp := c.Counterpart(userID); cp != "" && !seenUser[cp] {
			seenUser[cp] = true
			counterpartIDs = append(counterpartIDs, cp)
		}
		if !seenProject[c.ProjectID] {
			seenProject[c.ProjectID] = true
			projectIDs = append(projectIDs, c.ProjectID)
		}
	}

	profiles, err := retryRead(ctx, d.retry, "profiles.GetByIDs", func(ctx context.Context) ([]model.Profile, error) {
		return d.profiles.GetByIDs(ctx, counterpartIDs)
	})
	if err != nil {
		return nil, mapReadErr("profiles", err)
	}
	projects, err := retryRead(ctx, d.retry, "projects.GetByIDs", func(ctx context.Context) ([]model.ProjectSummary, error) {
		return d.projects.GetByIDs(ctx, projectIDs)
	})
	if err != nil {
		return nil, mapReadErr("projects", err)
	}
	recent, err := retryRead(ctx, d.retry, "messages.ListRecentByConversations", func(ctx context.Context) ([]model.Message, error) {
		return d.msgs.ListRecentByConversations(ctx, convIDs)
	})
	if err != nil {
		return nil, mapReadErr("recent messages", err)
	}
	unread, err := retryRead(ctx, d.retry, "messages.ListUnreadForReceiver", func(ctx context.Context) ([]model.Message, error) {
		return d.msgs.ListUnreadForReceiver(ctx, userID, convIDs)
	})
	if err != nil {
		return nil, mapReadErr("unread messages", err)
	}

	profileByID := make(map[string]model.ProfilePublic, len(profiles))
	for i := range profiles {
		profileByID[profiles[i].ID] = profiles[i].ToPublic()
	}
	projectByID := make(map[string]model.ProjectSummary, len(projects))
	for _, p := range projects {
		projectByID[p.ID] = p
	}
	// Сообщения отсортированы от новых к старым: первое для переписки и есть последнее.
	lastByConv := make(map[string]*model.MessagePreview, len(convs))
	for _, m := range recent {
		if _, ok := lastByConv[m.ConversationID]; !ok {
			lastByConv[m.ConversationID] = m.Preview()
		}
	}
	unreadByConv := make(map[string]int, len(convs))
	for _, m := range unread {
		unreadByConv[m.ConversationID]++
	}

	for _, c := range convs {
		s := model.ConversationSummary{
			Conversation: c,
			LastMessage:  lastByConv[c.ID],
			UnreadCount:  unreadByConv[c.ID],
		}
		if p, ok := profileByID[c.Counterpart(userID)]; ok {
			s.Counterpart = &p
		}
		if p, ok := projectByID[c.ProjectID]; ok {
			s.Project = &p
		}
		out = append(out, s)
	}
	return out, nil
}

// UnreadTotal: сумма непрочитанных по всем активным перепискам (бейдж в навигации).
func (d *Directory) UnreadTotal(ctx context.Context, userID string, role model.Role) (int, error) {
	defer logger.DeferLogDuration("directory.UnreadTotal", time.Now())()
	if userID == "" || !role.Valid() {
		return 0, validationf("user id and role required")
	}
	convs, err := retryRead(ctx, d.retry, "conversations.ListActive", func(ctx context.Context) ([]model.Conversation, error) {
		return d.convs.ListActive(ctx, userID, role)
	})
	if err != nil {
		return 0, mapReadErr("conversations", err)
	}
	if len(convs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	unread, err := retryRead(ctx, d.retry, "messages.ListUnreadForReceiver", func(ctx context.Context) ([]model.Message, error) {
		return d.msgs.ListUnreadForReceiver(ctx, userID, ids)
	})
	if err != nil {
		return 0, mapReadErr("unread messages", err)
	}
	return len(unread), nil
}

type OpenRequest struct {
	ProfessionalID string                   `json:"professional_id"`
	ProjectID      string                   `json:"project_id"`
	Reason         model.ConversationReason `json:"reason"`
}

// Open создаёт переписку клиента со специалистом по проекту или возвращает существующую
// для той же тройки. created=false: повторное использование, не ошибка.
func (d *Directory) Open(ctx context.Context, clientID string, role model.Role, req OpenRequest) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("directory.Open", time.Now())()
	if role != model.RoleClient {
		return nil, false, fmt.Errorf("%w: only clients open conversations", ErrPermissionDenied)
	}
	if clientID == "" || req.ProfessionalID == "" || req.ProjectID == "" {
		return nil, false, validationf("professional_id and project_id required")
	}
	if clientID == req.ProfessionalID {
		return nil, false, validationf("cannot open a conversation with yourself")
	}
	if req.Reason != model.ReasonApplication && req.Reason != model.ReasonScout {
		return nil, false, validationf("unknown reason %q", req.Reason)
	}
	conv, created, err := d.convs.GetOrCreate(ctx, &model.Conversation{
		ID:             uuid.New().String(),
		ClientID:       clientID,
		ProfessionalID: req.ProfessionalID,
		ProjectID:      req.ProjectID,
		Reason:         req.Reason,
		Status:         model.ConversationActive,
		CreatedAt:      d.now().UTC(),
	})
	if err != nil {
		return nil, false, mapWriteErr("open conversation", err)
	}
	if created {
		logger.Infof("conversation %s opened: client=%s professional=%s project=%s reason=%s",
			conv.ID, clientID, req.ProfessionalID, req.ProjectID, req.Reason)
	}
	return conv, created, nil
}
