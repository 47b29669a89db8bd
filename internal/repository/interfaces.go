package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/models"
)

// Every method takes context.Context first: these all touch the network
// (Postgres or Redis), and the caller's deadline or disconnect should
// cancel the work.

// MessageRepository is the durability collaborator for the broadcast
// protocol. The protocol persists before it broadcasts; an id returned
// from Create is the proof a message may be fanned out.
type MessageRepository interface {
	// Create persists a message and returns it with ID and CreatedAt
	// populated. The returned ID is monotonic within a room.
	Create(ctx context.Context, room models.RoomID, senderID uuid.UUID, senderName, body, kind string, replyToID *int64) (*models.ChatMessage, error)

	// GetByID returns a single message. Returns nil, nil if not found.
	GetByID(ctx context.Context, id int64) (*models.ChatMessage, error)

	// SoftDelete hides a message without erasing its row. Returns
	// false when the id does not exist or was already deleted.
	SoftDelete(ctx context.Context, id int64) (bool, error)

	// ListByRoom returns messages newest first, paginated by a
	// "before message id" cursor (0 = from the top). Deleted messages
	// come back with an empty body, never the original.
	ListByRoom(ctx context.Context, room models.RoomID, before int64, limit int) ([]models.ChatMessage, error)
}

// MembershipRepository reads the LMS's group membership and records
// read markers. Membership rows are written by the LMS proper; this
// service only consults them for room authorization.
type MembershipRepository interface {
	// IsMember checks whether a user belongs to a group. Hot-path
	// check, it runs on every room join.
	IsMember(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (bool, error)

	// ListMembers returns all members of a group.
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.GroupMember, error)

	// UpdateLastRead advances the user's read marker for the group.
	// Never moves backwards.
	UpdateLastRead(ctx context.Context, groupID uuid.UUID, userID uuid.UUID, messageID int64) error
}

// UserRepository reads LMS accounts.
type UserRepository interface {
	// GetByID returns a user. Returns nil, nil if not found.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// ModerationStore holds the ephemeral moderation flags consulted by the
// broadcast protocol: per-room mute sets and the removal flag that
// blocks an immediate rejoin after an admin kick. Backed by Redis so
// flags survive a process restart but expire on their own.
type ModerationStore interface {
	SetMuted(ctx context.Context, room models.RoomID, userID uuid.UUID, muted bool) error
	IsMuted(ctx context.Context, room models.RoomID, userID uuid.UUID) (bool, error)
	ListMuted(ctx context.Context, room models.RoomID) ([]uuid.UUID, error)

	// MarkRemoved flags a user as removed from a room; Join refuses
	// while the flag holds. The flag carries a TTL: removal is a
	// session kick with a cool-down, not a durable ban.
	MarkRemoved(ctx context.Context, room models.RoomID, userID uuid.UUID) error
	IsRemoved(ctx context.Context, room models.RoomID, userID uuid.UUID) (bool, error)
	ClearRemoved(ctx context.Context, room models.RoomID, userID uuid.UUID) error
}
