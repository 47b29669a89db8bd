package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/models"
	"github.com/openlms/groupchat/internal/repository"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	chat:mute:<room>            SET of muted user ids
//	chat:removed:<room>:<user>  removal flag with TTL
const (
	muteKeyPrefix    = "chat:mute:"
	removedKeyPrefix = "chat:removed:"

	// removedTTL bounds how long an admin kick blocks rejoin. The flag
	// expires on its own; ClearRemoved lifts it early.
	removedTTL = 24 * time.Hour
)

type ModerationStore struct {
	client *redis.Client
}

var _ repository.ModerationStore = (*ModerationStore)(nil)

func NewModerationStore(client *redis.Client) *ModerationStore {
	return &ModerationStore{client: client}
}

func muteKey(room models.RoomID) string {
	return muteKeyPrefix + room.String()
}

func removedKey(room models.RoomID, userID uuid.UUID) string {
	return removedKeyPrefix + room.String() + ":" + userID.String()
}

func (s *ModerationStore) SetMuted(ctx context.Context, room models.RoomID, userID uuid.UUID, muted bool) error {
	var err error
	if muted {
		err = s.client.SAdd(ctx, muteKey(room), userID.String()).Err()
	} else {
		err = s.client.SRem(ctx, muteKey(room), userID.String()).Err()
	}
	if err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return nil
}

func (s *ModerationStore) IsMuted(ctx context.Context, room models.RoomID, userID uuid.UUID) (bool, error) {
	muted, err := s.client.SIsMember(ctx, muteKey(room), userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check muted: %w", err)
	}
	return muted, nil
}

func (s *ModerationStore) ListMuted(ctx context.Context, room models.RoomID) ([]uuid.UUID, error) {
	members, err := s.client.SMembers(ctx, muteKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("list muted: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// A corrupt set entry shouldn't poison the whole listing.
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *ModerationStore) MarkRemoved(ctx context.Context, room models.RoomID, userID uuid.UUID) error {
	if err := s.client.Set(ctx, removedKey(room, userID), "1", removedTTL).Err(); err != nil {
		return fmt.Errorf("mark removed: %w", err)
	}
	return nil
}

func (s *ModerationStore) IsRemoved(ctx context.Context, room models.RoomID, userID uuid.UUID) (bool, error) {
	_, err := s.client.Get(ctx, removedKey(room, userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("check removed: %w", err)
	}
	return true, nil
}

func (s *ModerationStore) ClearRemoved(ctx context.Context, room models.RoomID, userID uuid.UUID) error {
	if err := s.client.Del(ctx, removedKey(room, userID)).Err(); err != nil {
		return fmt.Errorf("clear removed: %w", err)
	}
	return nil
}
