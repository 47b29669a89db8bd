package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/models"
)

// EventType tags every frame on the wire, client→server and
// server→client. Keeping the vocabulary in one place makes the
// protocol statically enumerable.
type EventType string

// Client→server events.
const (
	EventJoinRoom      EventType = "join_chat_room"
	EventLeaveRoom     EventType = "leave_chat_room"
	EventSendMessage   EventType = "send_message"
	EventTypingStart   EventType = "typing_start"
	EventTypingStop    EventType = "typing_stop"
	EventMarkRead      EventType = "mark_messages_read"
	EventDeleteMessage EventType = "delete_message"
)

// Server→client events.
const (
	EventJoinedRoom        EventType = "joined_room"
	EventNewMessage        EventType = "new_message"
	EventMessageDeleted    EventType = "message_deleted"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventUserTyping        EventType = "user_typing"
	EventMessagesRead      EventType = "messages_read"
	EventNotification      EventType = "notification"
	EventAdminNotification EventType = "admin_notification"
	EventError             EventType = "error"
)

// Envelope is the outer frame: {"type": ..., "payload": ...}.
// The payload stays raw until the type is known.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a complete frame for one event.
func Encode(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	data, err := json.Marshal(Envelope{Type: t, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return data, nil
}

// ---------------------------------------------------------------
// Client→server payloads. Field names follow the existing client's
// wire shape (camelCase).
// ---------------------------------------------------------------

type JoinRoomPayload struct {
	HackathonID uuid.UUID `json:"hackathonId"`
	GroupID     uuid.UUID `json:"groupId"`
}

func (p JoinRoomPayload) Room() models.RoomID {
	return models.RoomID{HackathonID: p.HackathonID, GroupID: p.GroupID}
}

type SendMessagePayload struct {
	HackathonID      uuid.UUID `json:"hackathonId"`
	GroupID          uuid.UUID `json:"groupId"`
	Message          string    `json:"message"`
	MessageType      string    `json:"messageType"`
	ReplyToMessageID *int64    `json:"replyToMessageId,omitempty"`
}

func (p SendMessagePayload) Room() models.RoomID {
	return models.RoomID{HackathonID: p.HackathonID, GroupID: p.GroupID}
}

type DeleteMessagePayload struct {
	MessageID int64 `json:"messageId"`
}

// ---------------------------------------------------------------
// Server→client payloads.
// ---------------------------------------------------------------

// RoomUser identifies a principal inside room-scoped broadcasts.
type RoomUser struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
}

type JoinedRoomPayload struct {
	HackathonID uuid.UUID  `json:"hackathonId"`
	GroupID     uuid.UUID  `json:"groupId"`
	OnlineUsers []RoomUser `json:"onlineUsers"`
}

type PresencePayload struct {
	HackathonID uuid.UUID `json:"hackathonId"`
	GroupID     uuid.UUID `json:"groupId"`
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
}

type TypingPayload struct {
	HackathonID uuid.UUID `json:"hackathonId"`
	GroupID     uuid.UUID `json:"groupId"`
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
	IsTyping    bool      `json:"isTyping"`
}

type MessagesReadPayload struct {
	HackathonID       uuid.UUID `json:"hackathonId"`
	GroupID           uuid.UUID `json:"groupId"`
	UserID            uuid.UUID `json:"userId"`
	DisplayName       string    `json:"displayName"`
	LastReadMessageID int64     `json:"lastReadMessageId"`
	ReadAt            time.Time `json:"readAt"`
}

// WireMessage is the fully-materialized message broadcast on
// new_message: everything the client needs to render without a
// follow-up fetch.
type WireMessage struct {
	ID               int64     `json:"id"`
	HackathonID      uuid.UUID `json:"hackathonId"`
	GroupID          uuid.UUID `json:"groupId"`
	SenderID         uuid.UUID `json:"senderId"`
	SenderName       string    `json:"senderName"`
	Message          string    `json:"message"`
	MessageType      string    `json:"messageType"`
	ReplyToMessageID *int64    `json:"replyToMessageId,omitempty"`
	Edited           bool      `json:"edited"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toWireMessage(m *models.ChatMessage) WireMessage {
	return WireMessage{
		ID:               m.ID,
		HackathonID:      m.HackathonID,
		GroupID:          m.GroupID,
		SenderID:         m.SenderID,
		SenderName:       m.SenderName,
		Message:          m.Body,
		MessageType:      m.Kind,
		ReplyToMessageID: m.ReplyToID,
		Edited:           m.Edited,
		CreatedAt:        m.CreatedAt,
	}
}

type MessageDeletedPayload struct {
	HackathonID uuid.UUID `json:"hackathonId"`
	GroupID     uuid.UUID `json:"groupId"`
	MessageID   int64     `json:"messageId"`
	DeletedBy   uuid.UUID `json:"deletedBy"`
}

type NotificationPayload struct {
	Message string `json:"message"`
}

type AdminNotificationPayload struct {
	HackathonID uuid.UUID `json:"hackathonId"`
	GroupID     uuid.UUID `json:"groupId"`
	Action      string    `json:"action"`
	TargetID    uuid.UUID `json:"targetId"`
	TargetName  string    `json:"targetName"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
