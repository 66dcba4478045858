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

const messageCols = `id, conversation_id, sender_id, receiver_id, content, is_read, edited_at, is_deleted, deleted_at, deleted_by, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead,
		&m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.DeletedBy, &m.CreatedAt)
}

func (r *MessageRepository) collect(rows pgx.Rows, op string) ([]model.Message, error) {
	defer rows.Close()
	messages := make([]model.Message, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.%s scan: %w", op, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.%s rows: %w", op, err)
	}
	return messages, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.Content, m.IsRead, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation query: %w", err)
	}
	return r.collect(rows, "ListByConversation")
}

func (r *MessageRepository) ListRecentByConversations(ctx context.Context, conversationIDs []string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListRecentByConversations", time.Now())()
	if len(conversationIDs) == 0 {
		return []model.Message{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = ANY($1)
		 ORDER BY created_at DESC, id DESC`, conversationIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecentByConversations query: %w", err)
	}
	return r.collect(rows, "ListRecentByConversations")
}

func (r *MessageRepository) ListUnreadForReceiver(ctx context.Context, receiverID string, conversationIDs []string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListUnreadForReceiver", time.Now())()
	if len(conversationIDs) == 0 {
		return []model.Message{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE receiver_id = $1 AND is_read = false AND conversation_id = ANY($2)`,
		receiverID, conversationIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListUnreadForReceiver query: %w", err)
	}
	return r.collect(rows, "ListUnreadForReceiver")
}

func (r *MessageRepository) MarkRead(ctx context.Context, receiverID string, ids []string) (int, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE id = ANY($1) AND receiver_id = $2 AND is_read = false`,
		ids, receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, receiverID string) (int, error) {
	defer logger.DeferLogDuration("msg.MarkConversationRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE conversation_id = $1 AND receiver_id = $2 AND is_read = false`,
		conversationID, receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkConversationRead: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateContent меняет текст только у неудалённого сообщения самого отправителя.
func (r *MessageRepository) UpdateContent(ctx context.Context, id, senderID, content string, at time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, edited_at = $2
		 WHERE id = $3 AND sender_id = $4 AND is_deleted = false`,
		content, at, id, senderID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, senderID)
	}
	return nil
}

// SoftDelete ставит флаг удаления. При erase=true содержимое ещё и стирается.
func (r *MessageRepository) SoftDelete(ctx context.Context, id, senderID string, at time.Time, erase bool) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages
		 SET is_deleted = true, deleted_at = $1, deleted_by = $2,
		     content = CASE WHEN $3::boolean THEN '' ELSE content END
		 WHERE id = $4 AND sender_id = $2 AND is_deleted = false`,
		at, senderID, erase, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, senderID)
	}
	return nil
}

// explainMiss определяет, почему UPDATE не затронул ни одной строки.
func (r *MessageRepository) explainMiss(ctx context.Context, id, senderID string) error {
	var owner string
	var deleted bool
	err := r.pool.QueryRow(ctx, `SELECT sender_id, is_deleted FROM messages WHERE id = $1`, id).Scan(&owner, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.explainMiss: %w", err)
	}
	if owner != senderID {
		return storage.ErrNotOwner
	}
	if deleted {
		return storage.ErrMessageDeleted
	}
	return storage.ErrNotFound
}

var _ storage.MessageStore = (*MessageRepository)(nil)
