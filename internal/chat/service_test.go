package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlms/groupchat/internal/auth"
	"github.com/openlms/groupchat/internal/models"
)

// ---------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------

type mockSink struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (m *mockSink) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.frames = append(m.frames, cp)
	return nil
}

func (m *mockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// eventsOf decodes every frame of the given type into T.
func eventsOf[T any](t *testing.T, m *mockSink, typ EventType) []T {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []T
	for _, f := range m.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		if env.Type != typ {
			continue
		}
		var p T
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		out = append(out, p)
	}
	return out
}

func countOf(t *testing.T, m *mockSink, typ EventType) int {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, f := range m.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		if env.Type == typ {
			n++
		}
	}
	return n
}

type memMessages struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*models.ChatMessage
	failCreate error
}

func newMemMessages() *memMessages {
	return &memMessages{byID: make(map[int64]*models.ChatMessage)}
}

func (s *memMessages) Create(_ context.Context, room models.RoomID, senderID uuid.UUID, senderName, body, kind string, replyToID *int64) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return nil, s.failCreate
	}
	s.nextID++
	msg := &models.ChatMessage{
		ID:          s.nextID,
		HackathonID: room.HackathonID,
		GroupID:     room.GroupID,
		SenderID:    senderID,
		SenderName:  senderName,
		Body:        body,
		Kind:        kind,
		ReplyToID:   replyToID,
		CreatedAt:   time.Now().UTC(),
	}
	s.byID[msg.ID] = msg
	out := *msg
	return &out, nil
}

func (s *memMessages) GetByID(_ context.Context, id int64) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	out := *msg
	if out.Deleted {
		out.Body = ""
	}
	return &out, nil
}

func (s *memMessages) SoftDelete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok || msg.Deleted {
		return false, nil
	}
	msg.Deleted = true
	return true, nil
}

func (s *memMessages) ListByRoom(_ context.Context, room models.RoomID, before int64, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ChatMessage, 0)
	for _, msg := range s.byID {
		if msg.Room() != room {
			continue
		}
		if before > 0 && msg.ID >= before {
			continue
		}
		cp := *msg
		if cp.Deleted {
			cp.Body = ""
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memMemberships struct {
	mu       sync.Mutex
	members  map[uuid.UUID]map[uuid.UUID]string // group -> user -> role
	lastRead map[string]int64                   // group+user -> message id
}

func newMemMemberships() *memMemberships {
	return &memMemberships{
		members:  make(map[uuid.UUID]map[uuid.UUID]string),
		lastRead: make(map[string]int64),
	}
}

func (s *memMemberships) add(groupID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[groupID] == nil {
		s.members[groupID] = make(map[uuid.UUID]string)
	}
	s.members[groupID][userID] = models.RoleMember
}

func (s *memMemberships) IsMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[groupID][userID]
	return ok, nil
}

func (s *memMemberships) ListMembers(_ context.Context, groupID uuid.UUID) ([]models.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GroupMember, 0)
	for userID, role := range s.members[groupID] {
		out = append(out, models.GroupMember{GroupID: groupID, UserID: userID, Role: role})
	}
	return out, nil
}

func (s *memMemberships) UpdateLastRead(_ context.Context, groupID, userID uuid.UUID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupID.String() + ":" + userID.String()
	if messageID > s.lastRead[key] {
		s.lastRead[key] = messageID
	}
	return nil
}

func (s *memMemberships) readMarker(groupID, userID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRead[groupID.String()+":"+userID.String()]
}

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[uuid.UUID]*models.User)}
}

func (s *memUsers) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

type memModeration struct {
	mu      sync.Mutex
	muted   map[string]bool // room:user
	removed map[string]bool
}

func newMemModeration() *memModeration {
	return &memModeration{
		muted:   make(map[string]bool),
		removed: make(map[string]bool),
	}
}

func modKey(room models.RoomID, userID uuid.UUID) string {
	return room.String() + ":" + userID.String()
}

func (s *memModeration) SetMuted(_ context.Context, room models.RoomID, userID uuid.UUID, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if muted {
		s.muted[modKey(room, userID)] = true
	} else {
		delete(s.muted, modKey(room, userID))
	}
	return nil
}

func (s *memModeration) IsMuted(_ context.Context, room models.RoomID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted[modKey(room, userID)], nil
}

func (s *memModeration) ListMuted(_ context.Context, room models.RoomID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *memModeration) MarkRemoved(_ context.Context, room models.RoomID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[modKey(room, userID)] = true
	return nil
}

func (s *memModeration) IsRemoved(_ context.Context, room models.RoomID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed[modKey(room, userID)], nil
}

func (s *memModeration) ClearRemoved(_ context.Context, room models.RoomID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.removed, modKey(room, userID))
	return nil
}

// ---------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------

type fixture struct {
	svc        *Service
	messages   *memMessages
	members    *memMemberships
	users      *memUsers
	moderation *memModeration
	room       models.RoomID
}

func newFixture(t *testing.T, typingTTL time.Duration) *fixture {
	t.Helper()
	messages := newMemMessages()
	members := newMemMemberships()
	users := newMemUsers()
	moderation := newMemModeration()
	svc := NewService(messages, members, users, moderation, typingTTL, zap.NewNop())
	return &fixture{
		svc:        svc,
		messages:   messages,
		members:    members,
		users:      users,
		moderation: moderation,
		room: models.RoomID{
			HackathonID: uuid.New(),
			GroupID:     uuid.New(),
		},
	}
}

// newMember creates a registered, room-authorized client.
func (f *fixture) newMember(t *testing.T, name string) (*Client, *mockSink) {
	t.Helper()
	c, sink := f.newClient(name, models.RoleMember)
	f.members.add(f.room.GroupID, c.UserID())
	return c, sink
}

func (f *fixture) newClient(name, role string) (*Client, *mockSink) {
	sink := &mockSink{}
	claims := &auth.Claims{
		UserID:      uuid.New(),
		DisplayName: name,
		Role:        role,
	}
	c := NewClient(claims, sink)
	f.svc.Register(c)
	return c, sink
}

// sibling registers a second connection for the same principal.
func (f *fixture) sibling(c *Client) (*Client, *mockSink) {
	sink := &mockSink{}
	claims := &auth.Claims{
		UserID:      c.UserID(),
		DisplayName: c.DisplayName(),
		Role:        c.Role(),
	}
	s := NewClient(claims, sink)
	f.svc.Register(s)
	return s, sink
}

func adminClaims() *auth.Claims {
	return &auth.Claims{
		UserID:      uuid.New(),
		DisplayName: "site admin",
		Role:        models.RoleAdmin,
	}
}

func memberClaims() *auth.Claims {
	return &auth.Claims{
		UserID:      uuid.New(),
		DisplayName: "regular user",
		Role:        models.RoleMember,
	}
}

// ---------------------------------------------------------------
// Join / presence
// ---------------------------------------------------------------

func TestJoin_FirstMemberSeesEmptyOnlineSet(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")

	require.NoError(t, f.svc.Join(context.Background(), u1, f.room))

	joined := eventsOf[JoinedRoomPayload](t, sink1, EventJoinedRoom)
	require.Len(t, joined, 1)
	assert.Empty(t, joined[0].OnlineUsers)
	assert.Equal(t, f.room.HackathonID, joined[0].HackathonID)

	// Sole member: nobody to tell.
	assert.Zero(t, countOf(t, sink1, EventUserJoined))
}

func TestJoin_SecondMemberSeesFirstOnline(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	require.NoError(t, f.svc.Join(context.Background(), u1, f.room))
	require.NoError(t, f.svc.Join(context.Background(), u2, f.room))

	joined := eventsOf[JoinedRoomPayload](t, sink2, EventJoinedRoom)
	require.Len(t, joined, 1)
	require.Len(t, joined[0].OnlineUsers, 1)
	assert.Equal(t, u1.UserID(), joined[0].OnlineUsers[0].UserID)

	arrivals := eventsOf[PresencePayload](t, sink1, EventUserJoined)
	require.Len(t, arrivals, 1)
	assert.Equal(t, u2.UserID(), arrivals[0].UserID)
	assert.Equal(t, "bob", arrivals[0].DisplayName)
}

func TestJoin_NonMemberRejected(t *testing.T) {
	f := newFixture(t, 0)
	outsider, sink := f.newClient("mallory", models.RoleMember)

	err := f.svc.Join(context.Background(), outsider, f.room)
	require.ErrorIs(t, err, ErrUnauthorized)

	// No partial presence: a failed join leaves nothing behind.
	assert.Zero(t, countOf(t, sink, EventJoinedRoom))
	assert.Empty(t, f.svc.Stats())
}

func TestJoin_AdminBypassesGroupMembership(t *testing.T) {
	f := newFixture(t, 0)
	admin, sink := f.newClient("admin", models.RoleAdmin)

	require.NoError(t, f.svc.Join(context.Background(), admin, f.room))
	assert.Equal(t, 1, countOf(t, sink, EventJoinedRoom))
}

func TestPresence_MultipleTabsFlipOnce(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	tabB, _ := f.sibling(u1)
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u2, f.room))
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, tabB, f.room))

	// Second tab of the same principal: presence already PRESENT.
	assert.Equal(t, 1, countOf(t, sink2, EventUserJoined))

	// Closing tab A: sibling still connected, no user_left.
	f.svc.Unregister(u1)
	assert.Zero(t, countOf(t, sink2, EventUserLeft))

	// Closing the last tab flips to ABSENT exactly once.
	f.svc.Unregister(tabB)
	departures := eventsOf[PresencePayload](t, sink2, EventUserLeft)
	require.Len(t, departures, 1)
	assert.Equal(t, u1.UserID(), departures[0].UserID)
}

func TestLeave_LastConnectionBroadcastsOnce(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	require.NoError(t, f.svc.Leave(u1, f.room))
	assert.Equal(t, 1, countOf(t, sink2, EventUserLeft))

	// Leaving again is not possible: membership is gone.
	require.ErrorIs(t, f.svc.Leave(u1, f.room), ErrNotJoined)
	assert.Equal(t, 1, countOf(t, sink2, EventUserLeft))
}

// ---------------------------------------------------------------
// Message broadcast
// ---------------------------------------------------------------

func TestSendMessage_BroadcastToAllIncludingSender(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	msg, err := f.svc.SendMessage(ctx, u1, f.room, "hello", models.MessageKindText, nil)
	require.NoError(t, err)

	got1 := eventsOf[WireMessage](t, sink1, EventNewMessage)
	got2 := eventsOf[WireMessage](t, sink2, EventNewMessage)
	require.Len(t, got1, 1)
	require.Len(t, got2, 1)

	assert.Equal(t, msg.ID, got1[0].ID)
	assert.Equal(t, got1[0].ID, got2[0].ID)
	assert.Equal(t, "hello", got1[0].Message)
	assert.Equal(t, "hello", got2[0].Message)
	assert.Equal(t, u1.UserID(), got2[0].SenderID)
	assert.Equal(t, "alice", got2[0].SenderName)
}

func TestSendMessage_RequiresJoin(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")

	_, err := f.svc.SendMessage(context.Background(), u1, f.room, "hi", models.MessageKindText, nil)
	require.ErrorIs(t, err, ErrNotJoined)
	assert.Zero(t, countOf(t, sink1, EventNewMessage))
}

func TestSendMessage_PersistFailureMeansNoBroadcast(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	f.messages.failCreate = errors.New("connection refused")

	_, err := f.svc.SendMessage(ctx, u1, f.room, "lost", models.MessageKindText, nil)
	require.ErrorIs(t, err, ErrPersistence)

	// Nobody sees an undurable message, the sender included.
	assert.Zero(t, countOf(t, sink1, EventNewMessage))
	assert.Zero(t, countOf(t, sink2, EventNewMessage))

	// The store recovers; later sends go through.
	f.messages.failCreate = nil
	_, err = f.svc.SendMessage(ctx, u1, f.room, "back", models.MessageKindText, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, countOf(t, sink2, EventNewMessage))
}

func TestSendMessage_SameOrderForAllMembers(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	const perSender = 20
	var wg sync.WaitGroup
	for _, sender := range []*Client{u1, u2} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := f.svc.SendMessage(ctx, c, f.room, "m", models.MessageKindText, nil)
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	got1 := eventsOf[WireMessage](t, sink1, EventNewMessage)
	got2 := eventsOf[WireMessage](t, sink2, EventNewMessage)
	require.Len(t, got1, 2*perSender)
	require.Len(t, got2, 2*perSender)

	for i := range got1 {
		assert.Equal(t, got1[i].ID, got2[i].ID, "members observed different orders at position %d", i)
		if i > 0 {
			assert.Greater(t, got1[i].ID, got1[i-1].ID)
		}
	}
}

func TestSendMessage_ReplyToCarriedThrough(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))

	first, err := f.svc.SendMessage(ctx, u1, f.room, "original", models.MessageKindText, nil)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, u1, f.room, "reply", models.MessageKindText, &first.ID)
	require.NoError(t, err)

	got := eventsOf[WireMessage](t, sink1, EventNewMessage)
	require.Len(t, got, 2)
	require.NotNil(t, got[1].ReplyToMessageID)
	assert.Equal(t, first.ID, *got[1].ReplyToMessageID)
}

// ---------------------------------------------------------------
// Delete
// ---------------------------------------------------------------

func TestDeleteMessage_NonAuthorRejected(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	msg, err := f.svc.SendMessage(ctx, u1, f.room, "keep me", models.MessageKindText, nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.DeleteMessage(ctx, u2, msg.ID), ErrUnauthorized)
	assert.Zero(t, countOf(t, sink2, EventMessageDeleted))

	// Message remains visible.
	listed, err := f.messages.ListByRoom(ctx, f.room, 0, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "keep me", listed[0].Body)
}

func TestDeleteMessage_AuthorSoftDeletesIrreversibly(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	msg, err := f.svc.SendMessage(ctx, u1, f.room, "secret", models.MessageKindText, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteMessage(ctx, u1, msg.ID))

	deleted := eventsOf[MessageDeletedPayload](t, sink2, EventMessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, msg.ID, deleted[0].MessageID)
	assert.Equal(t, u1.UserID(), deleted[0].DeletedBy)

	// The body never comes back, through any read path.
	listed, err := f.messages.ListByRoom(ctx, f.room, 0, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Deleted)
	assert.Empty(t, listed[0].Body)

	// Deleting again: the message is gone as far as delete is concerned.
	require.ErrorIs(t, f.svc.DeleteMessage(ctx, u1, msg.ID), ErrNotFound)
}

func TestDeleteMessage_AdminMayDeleteAnyMessage(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	admin, _ := f.newClient("admin", models.RoleAdmin)

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, admin, f.room))

	msg, err := f.svc.SendMessage(ctx, u1, f.room, "offensive", models.MessageKindText, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteMessage(ctx, admin, msg.ID))
}

func TestDeleteMessage_UnknownIDNotFound(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")

	require.ErrorIs(t, f.svc.DeleteMessage(context.Background(), u1, 99999), ErrNotFound)
}

// ---------------------------------------------------------------
// Read receipts
// ---------------------------------------------------------------

func TestMarkRead_PersistsMarkerAndBroadcasts(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	msg, err := f.svc.SendMessage(ctx, u1, f.room, "read me", models.MessageKindText, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRead(ctx, u2, f.room))

	receipts := eventsOf[MessagesReadPayload](t, sink2, EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, u2.UserID(), receipts[0].UserID)
	assert.Equal(t, msg.ID, receipts[0].LastReadMessageID)

	assert.Equal(t, msg.ID, f.members.readMarker(f.room.GroupID, u2.UserID()))
}

func TestMarkRead_RequiresJoin(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")

	require.ErrorIs(t, f.svc.MarkRead(context.Background(), u1, f.room), ErrNotJoined)
}

// ---------------------------------------------------------------
// Moderation
// ---------------------------------------------------------------

func TestMute_BlocksSendUntilUnmuted(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	require.NoError(t, f.svc.Mute(ctx, adminClaims(), f.room, u1.UserID(), true))

	// Muted principal gets a notification and an explicit failure.
	assert.Equal(t, 1, countOf(t, sink1, EventNotification))
	_, err := f.svc.SendMessage(ctx, u1, f.room, "silenced", models.MessageKindText, nil)
	require.ErrorIs(t, err, ErrMuted)
	assert.Zero(t, countOf(t, sink2, EventNewMessage))

	require.NoError(t, f.svc.Mute(ctx, adminClaims(), f.room, u1.UserID(), false))
	_, err = f.svc.SendMessage(ctx, u1, f.room, "free again", models.MessageKindText, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, countOf(t, sink2, EventNewMessage))
}

func TestMute_RequiresAdminRole(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")

	err := f.svc.Mute(context.Background(), memberClaims(), f.room, u1.UserID(), true)
	require.ErrorIs(t, err, ErrUnauthorized)

	muted, _ := f.moderation.IsMuted(context.Background(), f.room, u1.UserID())
	assert.False(t, muted)
}

func TestRemove_KicksAllConnectionsAndBlocksRejoin(t *testing.T) {
	f := newFixture(t, 0)
	u1, sink1 := f.newMember(t, "alice")
	tabB, _ := f.sibling(u1)
	u2, sink2 := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, tabB, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	require.NoError(t, f.svc.Remove(ctx, adminClaims(), f.room, u1.UserID()))

	// One user_left for the whole principal, plus the admin notice.
	assert.Equal(t, 1, countOf(t, sink2, EventUserLeft))
	assert.Equal(t, 1, countOf(t, sink2, EventAdminNotification))
	assert.GreaterOrEqual(t, countOf(t, sink1, EventNotification), 1)

	// Rejoin is refused while the flag holds.
	require.ErrorIs(t, f.svc.Join(ctx, u1, f.room), ErrRemoved)

	// Re-admission lifts it.
	require.NoError(t, f.svc.Readmit(ctx, adminClaims(), f.room, u1.UserID()))
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
}

func TestRemove_RequiresAdminRole(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")

	err := f.svc.Remove(context.Background(), memberClaims(), f.room, u1.UserID())
	require.ErrorIs(t, err, ErrUnauthorized)
}

// ---------------------------------------------------------------
// Stats / failure isolation
// ---------------------------------------------------------------

func TestStats_CountsConnectionsAndPrincipals(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	tabB, _ := f.sibling(u1)
	u2, _ := f.newMember(t, "bob")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, tabB, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))

	stats := f.svc.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Connections)
	assert.Equal(t, 2, stats[0].OnlineUsers)

	f.svc.Unregister(u1)
	f.svc.Unregister(tabB)
	f.svc.Unregister(u2)
	assert.Empty(t, f.svc.Stats())
}

func TestDeliver_DeadSinkDoesNotAffectOthers(t *testing.T) {
	f := newFixture(t, 0)
	u1, _ := f.newMember(t, "alice")
	u2, sink2 := f.newMember(t, "bob")
	u3, sink3 := f.newMember(t, "carol")

	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, u1, f.room))
	require.NoError(t, f.svc.Join(ctx, u2, f.room))
	require.NoError(t, f.svc.Join(ctx, u3, f.room))

	sink2.mu.Lock()
	sink2.sendErr = errors.New("broken pipe")
	sink2.mu.Unlock()

	_, err := f.svc.SendMessage(ctx, u1, f.room, "still flows", models.MessageKindText, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, countOf(t, sink3, EventNewMessage))

	// The dead connection gets reaped in the background.
	require.Eventually(t, func() bool {
		stats := f.svc.Stats()
		return len(stats) == 1 && stats[0].Connections == 2
	}, time.Second, 10*time.Millisecond)
}
