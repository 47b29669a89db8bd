package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openlms/groupchat/internal/models"
	"github.com/openlms/groupchat/internal/repository"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

var _ repository.MembershipRepository = (*MembershipStore)(nil)

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

func (s *MembershipStore) IsMember(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (bool, error) {
	// SELECT EXISTS stops at the first matching row; this runs on
	// every room join, so no COUNT(*).
	query := `
		SELECT EXISTS (
			SELECT 1 FROM group_members
			WHERE group_id = $1 AND user_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, groupID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *MembershipStore) ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.GroupMember, error) {
	query := `
		SELECT group_id, user_id, role, COALESCE(last_read_id, 0)
		FROM group_members
		WHERE group_id = $1`

	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]models.GroupMember, 0)
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.LastReadID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return members, nil
}

func (s *MembershipStore) UpdateLastRead(ctx context.Context, groupID uuid.UUID, userID uuid.UUID, messageID int64) error {
	// GREATEST keeps the marker monotonic: a stale mark_messages_read
	// arriving after a newer one never rolls it back.
	query := `
		UPDATE group_members
		SET last_read_id = GREATEST(COALESCE(last_read_id, 0), $3)
		WHERE group_id = $1 AND user_id = $2`

	_, err := s.pool.Exec(ctx, query, groupID, userID, messageID)
	if err != nil {
		return fmt.Errorf("update last read: %w", err)
	}
	return nil
}
