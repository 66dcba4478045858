package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

const conversationCols = `id, client_id, professional_id, project_id, reason, status, last_message_at, created_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.ClientID, &c.ProfessionalID, &c.ProjectID, &c.Reason, &c.Status, &c.LastMessageAt, &c.CreatedAt)
}

func (r *ConversationRepository) ListActive(ctx context.Context, userID string, role model.Role) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListActive", time.Now())()
	var query string
	switch role {
	case model.RoleClient:
		query = `SELECT ` + conversationCols + ` FROM conversations
		 WHERE client_id = $1 AND status = 'active'
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC`
	case model.RoleProfessional:
		query = `SELECT ` + conversationCols + ` FROM conversations
		 WHERE professional_id = $1 AND status = 'active'
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC`
	default:
		return nil, fmt.Errorf("convRepo.ListActive: unknown role %q", role)
	}
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListActive query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.ListActive scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListActive rows: %w", err)
	}
	return convs, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx, `SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// GetOrCreate: явный upsert-or-fetch по уникальной тройке, без разбора кодов ошибок.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("conv.GetOrCreate", time.Now())()
	out := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, client_id, professional_id, project_id, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (client_id, professional_id, project_id) DO NOTHING
		 RETURNING `+conversationCols,
		c.ID, c.ClientID, c.ProfessionalID, c.ProjectID, c.Reason, c.Status, c.CreatedAt,
	), out)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("convRepo.GetOrCreate insert: %w", err)
	}
	err = scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE client_id = $1 AND professional_id = $2 AND project_id = $3`,
		c.ClientID, c.ProfessionalID, c.ProjectID,
	), out)
	if err != nil {
		return nil, false, fmt.Errorf("convRepo.GetOrCreate fetch: %w", err)
	}
	return out, false, nil
}

func (r *ConversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("conv.TouchLastMessage", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE conversations SET last_message_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("convRepo.TouchLastMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.ConversationStore = (*ConversationRepository)(nil)
