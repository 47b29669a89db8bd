package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role values carried in JWT claims and on group membership rows.
// "admin" unlocks the moderation surface and lets a user enter rooms
// for groups they are not a member of.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Message kinds accepted on send_message. Plain strings, validated at
// the protocol layer.
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindFile  = "file"
)

// RoomID addresses a chat room. Rooms are not persisted as their own
// entity: the (hackathon, group) tuple is the identity, and the string
// form is stable for the lifetime of the pair.
type RoomID struct {
	HackathonID uuid.UUID `json:"hackathon_id"`
	GroupID     uuid.UUID `json:"group_id"`
}

func (r RoomID) String() string {
	return fmt.Sprintf("hackathon:%s:group:%s", r.HackathonID, r.GroupID)
}

func (r RoomID) IsZero() bool {
	return r.HackathonID == uuid.Nil && r.GroupID == uuid.Nil
}

// User is an LMS account. Accounts are created by the LMS proper (out
// of band); this service only reads them for display attributes and
// profile lookups.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Group is a hackathon team. Managed by the LMS; read here for room
// authorization and admin listings.
type Group struct {
	ID          uuid.UUID `json:"id"`
	HackathonID uuid.UUID `json:"hackathon_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// GroupMember is the join table between groups and users. LastReadID
// is the newest message id the user has acknowledged via
// mark_messages_read; 0 means never.
type GroupMember struct {
	GroupID    uuid.UUID `json:"group_id"`
	UserID     uuid.UUID `json:"user_id"`
	Role       string    `json:"role"`
	LastReadID int64     `json:"last_read_id"`
}

// ChatMessage is one persisted room message.
//
// Messages use int64 bigserial ids: insertion order at the database is
// the room's canonical order, and the id doubles as the pagination
// cursor. Deleted messages keep their row (soft delete) with the body
// withheld from every read path.
type ChatMessage struct {
	ID          int64     `json:"id"`
	HackathonID uuid.UUID `json:"hackathon_id"`
	GroupID     uuid.UUID `json:"group_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Body        string    `json:"body"`
	Kind        string    `json:"kind"`
	ReplyToID   *int64    `json:"reply_to_id,omitempty"`
	Deleted     bool      `json:"deleted"`
	Edited      bool      `json:"edited"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m *ChatMessage) Room() RoomID {
	return RoomID{HackathonID: m.HackathonID, GroupID: m.GroupID}
}
