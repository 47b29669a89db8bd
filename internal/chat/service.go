package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/auth"
	"github.com/openlms/groupchat/internal/models"
	"github.com/openlms/groupchat/internal/repository"
	"go.uber.org/zap"
)

// DefaultTypingTimeout clears a typing flag that was never refreshed
// or explicitly stopped.
const DefaultTypingTimeout = 4 * time.Second

// Service owns all in-memory chat state: the connection registry, the
// per-room membership and presence maps, and the typing tracker. All
// mutation goes through its methods under s.mu; no other component
// touches the maps. Handlers for different connections run on
// different goroutines, so the lock is load-bearing, not decorative.
//
// Messages are not part of this state: durability belongs to the
// message repository, and a message is only broadcast after the store
// acknowledged it.
type Service struct {
	logger      *zap.Logger
	messages    repository.MessageRepository
	memberships repository.MembershipRepository
	users       repository.UserRepository
	moderation  repository.ModerationStore
	typingTTL   time.Duration

	mu       sync.Mutex
	sessions map[string]*session   // by connection id
	rooms    map[string]*roomState // by RoomID.String()
}

// session is the registry's view of one connection: the client plus
// the set of rooms it has joined.
type session struct {
	client *Client
	rooms  map[string]models.RoomID
}

// roomState is the live state of one room. Presence is
// reference-counted per principal: the online set changes only when a
// principal's first connection joins or their last one leaves.
type roomState struct {
	id      models.RoomID
	conns   map[string]*Client        // connection id -> client
	present map[uuid.UUID]int         // principal -> live connection count
	names   map[uuid.UUID]string      // display names of present principals
	typing  map[uuid.UUID]*time.Timer // principals currently typing

	lastMessageID int64

	// sendMu serializes persist+broadcast for this room so every member
	// observes new_message in the order the room accepted them.
	sendMu sync.Mutex
}

// RoomStats is the admin view of one live room.
type RoomStats struct {
	HackathonID uuid.UUID `json:"hackathon_id"`
	GroupID     uuid.UUID `json:"group_id"`
	Connections int       `json:"connections"`
	OnlineUsers int       `json:"online_users"`
}

func NewService(
	messages repository.MessageRepository,
	memberships repository.MembershipRepository,
	users repository.UserRepository,
	moderation repository.ModerationStore,
	typingTTL time.Duration,
	logger *zap.Logger,
) *Service {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTimeout
	}
	return &Service{
		logger:      logger,
		messages:    messages,
		memberships: memberships,
		users:       users,
		moderation:  moderation,
		typingTTL:   typingTTL,
		sessions:    make(map[string]*session),
		rooms:       make(map[string]*roomState),
	}
}

// ---------------------------------------------------------------
// Connection registry
// ---------------------------------------------------------------

// Register admits a connection whose credential was already validated
// at the transport handshake.
func (s *Service) Register(c *Client) {
	s.mu.Lock()
	s.sessions[c.ID()] = &session{
		client: c,
		rooms:  make(map[string]models.RoomID),
	}
	total := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("client registered",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", c.UserID().String()),
		zap.Int("connections", total),
	)
}

// Unregister drops a connection and leaves every room it joined.
// Idempotent: transport close, explicit logout, and admin removal can
// all race here.
func (s *Service) Unregister(c *Client) {
	s.mu.Lock()
	sess, ok := s.sessions[c.ID()]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, c.ID())

	var departures []departure
	for key := range sess.rooms {
		rs, ok := s.rooms[key]
		if !ok {
			continue
		}
		if d, flipped := s.leaveRoomLocked(sess, rs); flipped {
			departures = append(departures, d)
		}
	}
	s.mu.Unlock()

	for _, d := range departures {
		s.deliver(d.recipients, EventUserLeft, d.payload)
	}

	s.logger.Info("client unregistered",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", c.UserID().String()),
	)
}

// ---------------------------------------------------------------
// Room membership
// ---------------------------------------------------------------

// Join adds the connection to a room. Authorization happens here, once:
// group membership (or the admin role) is checked against the store,
// and the removal flag set by an admin kick blocks re-entry while it
// holds. On the principal's first connection in the room, the room is
// told user_joined; the joining connection always gets joined_room with
// the current online set.
func (s *Service) Join(ctx context.Context, c *Client, room models.RoomID) error {
	s.mu.Lock()
	_, registered := s.sessions[c.ID()]
	s.mu.Unlock()
	if !registered {
		return fmt.Errorf("connection %s not registered", c.ID())
	}

	if !c.IsAdmin() {
		removed, err := s.moderation.IsRemoved(ctx, room, c.UserID())
		if err != nil {
			return fmt.Errorf("check removal flag: %w", err)
		}
		if removed {
			return ErrRemoved
		}

		member, err := s.memberships.IsMember(ctx, room.GroupID, c.UserID())
		if err != nil {
			return fmt.Errorf("check group membership: %w", err)
		}
		if !member {
			return ErrUnauthorized
		}
	}

	key := room.String()

	s.mu.Lock()
	sess, ok := s.sessions[c.ID()]
	if !ok {
		// Disconnected while we were checking authorization.
		s.mu.Unlock()
		return fmt.Errorf("connection %s not registered", c.ID())
	}

	rs, ok := s.rooms[key]
	if !ok {
		rs = &roomState{
			id:      room,
			conns:   make(map[string]*Client),
			present: make(map[uuid.UUID]int),
			names:   make(map[uuid.UUID]string),
			typing:  make(map[uuid.UUID]*time.Timer),
		}
		s.rooms[key] = rs
	}

	first := false
	if _, joined := rs.conns[c.ID()]; !joined {
		rs.conns[c.ID()] = c
		rs.present[c.UserID()]++
		first = rs.present[c.UserID()] == 1
		if first {
			rs.names[c.UserID()] = c.DisplayName()
		}
		sess.rooms[key] = room
	}

	online := make([]RoomUser, 0, len(rs.present))
	for id, name := range rs.names {
		if id == c.UserID() {
			continue
		}
		online = append(online, RoomUser{UserID: id, DisplayName: name})
	}
	others := rs.othersOf(c.UserID())
	s.mu.Unlock()

	if err := c.sendEvent(EventJoinedRoom, JoinedRoomPayload{
		HackathonID: room.HackathonID,
		GroupID:     room.GroupID,
		OnlineUsers: online,
	}); err != nil {
		s.logger.Warn("joined_room send failed", zap.String("conn_id", c.ID()), zap.Error(err))
	}

	if first {
		s.deliver(others, EventUserJoined, PresencePayload{
			HackathonID: room.HackathonID,
			GroupID:     room.GroupID,
			UserID:      c.UserID(),
			DisplayName: c.DisplayName(),
		})
	}

	s.logger.Debug("client joined room",
		zap.String("conn_id", c.ID()),
		zap.String("room", key),
		zap.Bool("first_connection", first),
	)
	return nil
}

// Leave removes the connection from a room. On the principal's last
// connection, the room is told user_left.
func (s *Service) Leave(c *Client, room models.RoomID) error {
	s.mu.Lock()
	sess, ok := s.sessions[c.ID()]
	if !ok {
		s.mu.Unlock()
		return ErrNotJoined
	}
	rs, ok := s.rooms[room.String()]
	if !ok {
		s.mu.Unlock()
		return ErrNotJoined
	}
	if _, joined := rs.conns[c.ID()]; !joined {
		s.mu.Unlock()
		return ErrNotJoined
	}
	d, flipped := s.leaveRoomLocked(sess, rs)
	s.mu.Unlock()

	if flipped {
		s.deliver(d.recipients, EventUserLeft, d.payload)
	}
	return nil
}

type departure struct {
	recipients []*Client
	payload    PresencePayload
}

// leaveRoomLocked detaches one connection from a room and returns the
// user_left broadcast to emit if this was the principal's last
// connection there. Caller holds s.mu and delivers after unlocking.
func (s *Service) leaveRoomLocked(sess *session, rs *roomState) (departure, bool) {
	c := sess.client
	key := rs.id.String()

	delete(sess.rooms, key)
	if _, joined := rs.conns[c.ID()]; !joined {
		return departure{}, false
	}
	delete(rs.conns, c.ID())

	rs.present[c.UserID()]--
	if rs.present[c.UserID()] > 0 {
		return departure{}, false
	}
	delete(rs.present, c.UserID())
	delete(rs.names, c.UserID())
	if t, ok := rs.typing[c.UserID()]; ok {
		t.Stop()
		delete(rs.typing, c.UserID())
	}

	d := departure{
		recipients: rs.all(),
		payload: PresencePayload{
			HackathonID: rs.id.HackathonID,
			GroupID:     rs.id.GroupID,
			UserID:      c.UserID(),
			DisplayName: c.DisplayName(),
		},
	}

	if len(rs.conns) == 0 {
		delete(s.rooms, key)
	}
	return d, true
}

// ---------------------------------------------------------------
// Broadcast protocol
// ---------------------------------------------------------------

// SendMessage persists and then fans out one message. The room's send
// mutex is held across both steps: once a message is accepted for
// persistence, nothing in the same room overtakes it, so all members
// observe the same order. If the store fails, nobody sees the message, the sender
// included.
func (s *Service) SendMessage(ctx context.Context, c *Client, room models.RoomID, body, kind string, replyToID *int64) (*models.ChatMessage, error) {
	s.mu.Lock()
	rs, ok := s.rooms[room.String()]
	if !ok || !rs.has(c.ID()) {
		s.mu.Unlock()
		return nil, ErrNotJoined
	}
	s.mu.Unlock()

	muted, err := s.moderation.IsMuted(ctx, room, c.UserID())
	if err != nil {
		return nil, fmt.Errorf("check mute flag: %w", err)
	}
	if muted {
		return nil, ErrMuted
	}

	rs.sendMu.Lock()
	defer rs.sendMu.Unlock()

	msg, err := s.messages.Create(ctx, room, c.UserID(), c.DisplayName(), body, kind, replyToID)
	if err != nil {
		return nil, persistenceError(err)
	}

	s.mu.Lock()
	rs.lastMessageID = msg.ID
	recipients := rs.all()
	s.mu.Unlock()

	s.deliver(recipients, EventNewMessage, toWireMessage(msg))

	s.logger.Debug("message broadcast",
		zap.Int64("message_id", msg.ID),
		zap.String("room", room.String()),
		zap.Int("recipients", len(recipients)),
	)
	return msg, nil
}

// DeleteMessage soft-deletes a message on behalf of its author or an
// admin and announces the deletion to the room. The body never appears
// in any later broadcast or history read.
func (s *Service) DeleteMessage(ctx context.Context, c *Client, messageID int64) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg == nil || msg.Deleted {
		return ErrNotFound
	}
	if msg.SenderID != c.UserID() && !c.IsAdmin() {
		return ErrUnauthorized
	}

	ok, err := s.messages.SoftDelete(ctx, messageID)
	if err != nil {
		return persistenceError(err)
	}
	if !ok {
		return ErrNotFound
	}

	room := msg.Room()
	s.mu.Lock()
	var recipients []*Client
	if rs, live := s.rooms[room.String()]; live {
		recipients = rs.all()
	}
	s.mu.Unlock()

	s.deliver(recipients, EventMessageDeleted, MessageDeletedPayload{
		HackathonID: room.HackathonID,
		GroupID:     room.GroupID,
		MessageID:   messageID,
		DeletedBy:   c.UserID(),
	})
	return nil
}

// MarkRead records that the principal has read up to the newest message
// in the room and broadcasts a principal-level read receipt.
func (s *Service) MarkRead(ctx context.Context, c *Client, room models.RoomID) error {
	s.mu.Lock()
	rs, ok := s.rooms[room.String()]
	if !ok || !rs.has(c.ID()) {
		s.mu.Unlock()
		return ErrNotJoined
	}
	lastID := rs.lastMessageID
	recipients := rs.all()
	s.mu.Unlock()

	if lastID == 0 {
		// Nothing broadcast since this room spun up; the newest
		// persisted message is the marker.
		msgs, err := s.messages.ListByRoom(ctx, room, 0, 1)
		if err != nil {
			return fmt.Errorf("find newest message: %w", err)
		}
		if len(msgs) > 0 {
			lastID = msgs[0].ID
		}
	}

	if lastID > 0 {
		if err := s.memberships.UpdateLastRead(ctx, room.GroupID, c.UserID(), lastID); err != nil {
			return persistenceError(err)
		}
	}

	s.deliver(recipients, EventMessagesRead, MessagesReadPayload{
		HackathonID:       room.HackathonID,
		GroupID:           room.GroupID,
		UserID:            c.UserID(),
		DisplayName:       c.DisplayName(),
		LastReadMessageID: lastID,
		ReadAt:            time.Now().UTC(),
	})
	return nil
}

// ---------------------------------------------------------------
// Admin moderation
// ---------------------------------------------------------------

// Mute toggles the per-(room, principal) mute flag consulted by
// SendMessage. Admin only.
func (s *Service) Mute(ctx context.Context, actor *auth.Claims, room models.RoomID, targetID uuid.UUID, muted bool) error {
	if actor.Role != models.RoleAdmin {
		return ErrUnauthorized
	}

	if err := s.moderation.SetMuted(ctx, room, targetID, muted); err != nil {
		return persistenceError(err)
	}

	targetName := s.displayName(ctx, room, targetID)
	action := "muted"
	note := "You have been muted in this room by an admin."
	if !muted {
		action = "unmuted"
		note = "You have been unmuted."
	}

	s.mu.Lock()
	var recipients, targetConns []*Client
	if rs, live := s.rooms[room.String()]; live {
		recipients = rs.all()
		targetConns = rs.connsOf(targetID)
	}
	s.mu.Unlock()

	s.deliver(recipients, EventAdminNotification, AdminNotificationPayload{
		HackathonID: room.HackathonID,
		GroupID:     room.GroupID,
		Action:      action,
		TargetID:    targetID,
		TargetName:  targetName,
	})
	s.deliver(targetConns, EventNotification, NotificationPayload{Message: note})

	s.logger.Info("moderation action",
		zap.String("action", action),
		zap.String("room", room.String()),
		zap.String("target", targetID.String()),
		zap.String("actor", actor.UserID.String()),
	)
	return nil
}

// Remove kicks every connection the target holds in the room and sets
// the removal flag that blocks an immediate rejoin. Admin only. The
// rest of the room sees a single user_left plus an admin notification.
func (s *Service) Remove(ctx context.Context, actor *auth.Claims, room models.RoomID, targetID uuid.UUID) error {
	if actor.Role != models.RoleAdmin {
		return ErrUnauthorized
	}

	if err := s.moderation.MarkRemoved(ctx, room, targetID); err != nil {
		return persistenceError(err)
	}

	targetName := s.displayName(ctx, room, targetID)

	s.mu.Lock()
	var departures []departure
	var targetConns, remaining []*Client
	if rs, live := s.rooms[room.String()]; live {
		targetConns = rs.connsOf(targetID)
		for _, tc := range targetConns {
			sess, ok := s.sessions[tc.ID()]
			if !ok {
				continue
			}
			if d, flipped := s.leaveRoomLocked(sess, rs); flipped {
				departures = append(departures, d)
			}
		}
		if rs2, still := s.rooms[room.String()]; still {
			remaining = rs2.all()
		}
	}
	s.mu.Unlock()

	for _, d := range departures {
		s.deliver(d.recipients, EventUserLeft, d.payload)
	}
	s.deliver(targetConns, EventNotification, NotificationPayload{
		Message: "You have been removed from this room by an admin.",
	})
	s.deliver(remaining, EventAdminNotification, AdminNotificationPayload{
		HackathonID: room.HackathonID,
		GroupID:     room.GroupID,
		Action:      "removed",
		TargetID:    targetID,
		TargetName:  targetName,
	})

	s.logger.Info("moderation action",
		zap.String("action", "removed"),
		zap.String("room", room.String()),
		zap.String("target", targetID.String()),
		zap.String("actor", actor.UserID.String()),
	)
	return nil
}

// Readmit lifts the removal flag early so the target may rejoin before
// it expires. Admin only.
func (s *Service) Readmit(ctx context.Context, actor *auth.Claims, room models.RoomID, targetID uuid.UUID) error {
	if actor.Role != models.RoleAdmin {
		return ErrUnauthorized
	}
	if err := s.moderation.ClearRemoved(ctx, room, targetID); err != nil {
		return persistenceError(err)
	}
	return nil
}

// Stats snapshots the live rooms for the admin surface.
func (s *Service) Stats() []RoomStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]RoomStats, 0, len(s.rooms))
	for _, rs := range s.rooms {
		stats = append(stats, RoomStats{
			HackathonID: rs.id.HackathonID,
			GroupID:     rs.id.GroupID,
			Connections: len(rs.conns),
			OnlineUsers: len(rs.present),
		})
	}
	return stats
}

// ---------------------------------------------------------------
// Internals
// ---------------------------------------------------------------

// displayName resolves a user's name from live presence first, the
// user store second. Moderation must work on offline targets too.
func (s *Service) displayName(ctx context.Context, room models.RoomID, userID uuid.UUID) string {
	s.mu.Lock()
	if rs, live := s.rooms[room.String()]; live {
		if name, ok := rs.names[userID]; ok {
			s.mu.Unlock()
			return name
		}
	}
	s.mu.Unlock()

	u, err := s.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return ""
	}
	return u.DisplayName
}

// deliver marshals once and sends to every recipient. A failing sink
// is logged and unregistered out of band; one member's dead
// connection never affects the rest of the room.
func (s *Service) deliver(recipients []*Client, t EventType, payload any) {
	if len(recipients) == 0 {
		return
	}
	data, err := Encode(t, payload)
	if err != nil {
		s.logger.Error("encode event", zap.String("type", string(t)), zap.Error(err))
		return
	}
	for _, rc := range recipients {
		if err := rc.send(data); err != nil {
			s.logger.Warn("send failed, dropping connection",
				zap.String("conn_id", rc.ID()),
				zap.String("type", string(t)),
				zap.Error(err),
			)
			go s.Unregister(rc)
		}
	}
}

func (rs *roomState) has(connID string) bool {
	_, ok := rs.conns[connID]
	return ok
}

func (rs *roomState) all() []*Client {
	out := make([]*Client, 0, len(rs.conns))
	for _, c := range rs.conns {
		out = append(out, c)
	}
	return out
}

func (rs *roomState) othersOf(userID uuid.UUID) []*Client {
	out := make([]*Client, 0, len(rs.conns))
	for _, c := range rs.conns {
		if c.UserID() == userID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (rs *roomState) connsOf(userID uuid.UUID) []*Client {
	var out []*Client
	for _, c := range rs.conns {
		if c.UserID() == userID {
			out = append(out, c)
		}
	}
	return out
}
