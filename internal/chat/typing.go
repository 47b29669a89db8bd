package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/models"
)

// SetTyping records or clears the ephemeral "is typing" flag for the
// connection's principal in a room.
//
// Transitions broadcast user_typing to the other members; a renewal
// (typing_start while already typing) only resets the expiry timer, so
// held-down keys don't spam the room. A flag that is never refreshed or
// stopped clears itself after the configured timeout and broadcasts the
// stop exactly once. Nothing here is persisted; a restart simply
// forgets who was typing.
func (s *Service) SetTyping(c *Client, room models.RoomID, isTyping bool) error {
	key := room.String()

	s.mu.Lock()
	rs, ok := s.rooms[key]
	if !ok || !rs.has(c.ID()) {
		s.mu.Unlock()
		return ErrNotJoined
	}

	userID := c.UserID()
	name := c.DisplayName()

	if isTyping {
		if timer, already := rs.typing[userID]; already {
			timer.Reset(s.typingTTL)
			s.mu.Unlock()
			return nil
		}
		rs.typing[userID] = time.AfterFunc(s.typingTTL, func() {
			s.typingExpired(key, userID, name)
		})
		others := rs.othersOf(userID)
		s.mu.Unlock()

		s.deliver(others, EventUserTyping, TypingPayload{
			HackathonID: room.HackathonID,
			GroupID:     room.GroupID,
			UserID:      userID,
			DisplayName: name,
			IsTyping:    true,
		})
		return nil
	}

	timer, was := rs.typing[userID]
	if !was {
		s.mu.Unlock()
		return nil
	}
	timer.Stop()
	delete(rs.typing, userID)
	others := rs.othersOf(userID)
	s.mu.Unlock()

	s.deliver(others, EventUserTyping, TypingPayload{
		HackathonID: room.HackathonID,
		GroupID:     room.GroupID,
		UserID:      userID,
		DisplayName: name,
		IsTyping:    false,
	})
	return nil
}

// typingExpired is the timer callback. An explicit stop or a leave can
// race with expiry; whichever deletes the map entry first wins, so the
// stopped broadcast fires once.
func (s *Service) typingExpired(roomKey string, userID uuid.UUID, name string) {
	s.mu.Lock()
	rs, ok := s.rooms[roomKey]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, still := rs.typing[userID]; !still {
		s.mu.Unlock()
		return
	}
	delete(rs.typing, userID)
	room := rs.id
	others := rs.othersOf(userID)
	s.mu.Unlock()

	s.deliver(others, EventUserTyping, TypingPayload{
		HackathonID: room.HackathonID,
		GroupID:     room.GroupID,
		UserID:      userID,
		DisplayName: name,
		IsTyping:    false,
	})
}
