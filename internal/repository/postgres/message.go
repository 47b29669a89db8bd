package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openlms/groupchat/internal/models"
	"github.com/openlms/groupchat/internal/repository"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

var _ repository.MessageRepository = (*MessageStore)(nil)

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Create(ctx context.Context, room models.RoomID, senderID uuid.UUID, senderName, body, kind string, replyToID *int64) (*models.ChatMessage, error) {
	// bigserial id: Postgres assigns it, RETURNING hands it back. The
	// sequence is the room's canonical ordering.
	query := `
		INSERT INTO chat_messages (hackathon_id, group_id, sender_id, sender_name, body, kind, reply_to_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, hackathon_id, group_id, sender_id, sender_name, body, kind, reply_to_id, deleted, edited, created_at`

	var msg models.ChatMessage
	err := s.pool.QueryRow(ctx, query, room.HackathonID, room.GroupID, senderID, senderName, body, kind, replyToID).Scan(
		&msg.ID,
		&msg.HackathonID,
		&msg.GroupID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Body,
		&msg.Kind,
		&msg.ReplyToID,
		&msg.Deleted,
		&msg.Edited,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, id int64) (*models.ChatMessage, error) {
	// Deleted bodies are blanked at the query, not in Go, so no read path
	// ever sees the original text of a deleted message.
	query := `
		SELECT id, hackathon_id, group_id, sender_id, sender_name,
		       CASE WHEN deleted THEN '' ELSE body END,
		       kind, reply_to_id, deleted, edited, created_at
		FROM chat_messages
		WHERE id = $1`

	var msg models.ChatMessage
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.HackathonID,
		&msg.GroupID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Body,
		&msg.Kind,
		&msg.ReplyToID,
		&msg.Deleted,
		&msg.Edited,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE chat_messages
		SET deleted = true
		WHERE id = $1 AND deleted = false`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("soft delete message: %w", err)
	}
	// Zero rows means either no such id or already deleted; both are
	// "nothing happened" to the caller.
	return tag.RowsAffected() > 0, nil
}

func (s *MessageStore) ListByRoom(ctx context.Context, room models.RoomID, before int64, limit int) ([]models.ChatMessage, error) {
	// Cursor pagination: before=0 is the first page (newest), before=N
	// is "older than message N". ORDER BY id DESC because the bigserial id
	// sorts the same as created_at but cheaper.
	var query string
	var args []any

	if before > 0 {
		query = `
			SELECT id, hackathon_id, group_id, sender_id, sender_name,
			       CASE WHEN deleted THEN '' ELSE body END,
			       kind, reply_to_id, deleted, edited, created_at
			FROM chat_messages
			WHERE hackathon_id = $1 AND group_id = $2 AND id < $3
			ORDER BY id DESC
			LIMIT $4`
		args = []any{room.HackathonID, room.GroupID, before, limit}
	} else {
		query = `
			SELECT id, hackathon_id, group_id, sender_id, sender_name,
			       CASE WHEN deleted THEN '' ELSE body END,
			       kind, reply_to_id, deleted, edited, created_at
			FROM chat_messages
			WHERE hackathon_id = $1 AND group_id = $2
			ORDER BY id DESC
			LIMIT $3`
		args = []any{room.HackathonID, room.GroupID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.HackathonID,
			&msg.GroupID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Body,
			&msg.Kind,
			&msg.ReplyToID,
			&msg.Deleted,
			&msg.Edited,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
