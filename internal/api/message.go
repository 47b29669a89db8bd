package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/middleware"
	"github.com/openlms/groupchat/internal/models"
	"github.com/openlms/groupchat/internal/repository"
	"go.uber.org/zap"
)

type MessageHandler struct {
	messages    repository.MessageRepository
	memberships repository.MembershipRepository
	logger      *zap.Logger
}

func NewMessageHandler(messages repository.MessageRepository, memberships repository.MembershipRepository, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, memberships: memberships, logger: logger}
}

// List handles GET /v1/rooms/:hackathonId/:groupId/messages?before=123&limit=50
//
// Cursor-based pagination, newest first:
//   - "before" = message id cursor; 0 or absent means start from latest.
//   - "limit"  = page size, default 50, capped at 100.
//
// Deleted messages appear with an empty body and deleted=true so the
// client can render a tombstone.
func (h *MessageHandler) List(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)
	if middleware.GetRole(c) != models.RoleAdmin {
		member, err := h.memberships.IsMember(c.Request.Context(), room.GroupID, userID)
		if err != nil {
			h.logger.Error("failed to check membership", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
			return
		}
		if !member {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this group"})
			return
		}
	}

	var before int64
	var err error
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		if limit > 100 {
			limit = 100
		}
	}

	messages, err := h.messages.ListByRoom(c.Request.Context(), room, before, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}

// parseRoom reads the room tuple from path params, writing the 400
// itself on failure.
func parseRoom(c *gin.Context) (models.RoomID, bool) {
	hackathonID, err := uuid.Parse(c.Param("hackathonId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hackathon id"})
		return models.RoomID{}, false
	}
	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return models.RoomID{}, false
	}
	return models.RoomID{HackathonID: hackathonID, GroupID: groupID}, true
}
