package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/auth"
	"github.com/openlms/groupchat/internal/chat"
	"github.com/openlms/groupchat/internal/middleware"
	"github.com/openlms/groupchat/internal/models"
	"github.com/openlms/groupchat/internal/repository"
	"go.uber.org/zap"
)

// AdminHandler is the moderation surface. Routes are mounted behind
// AuthMiddleware + AdminOnly; the chat service re-checks the role on
// each action so the gate holds even if the routing changes.
type AdminHandler struct {
	service    *chat.Service
	moderation repository.ModerationStore
	logger     *zap.Logger
}

func NewAdminHandler(service *chat.Service, moderation repository.ModerationStore, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{service: service, moderation: moderation, logger: logger}
}

type moderationRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// ListRooms handles GET /v1/admin/rooms, live room statistics.
func (h *AdminHandler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Stats())
}

// ListMuted handles GET /v1/admin/rooms/:hackathonId/:groupId/muted
func (h *AdminHandler) ListMuted(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	muted, err := h.moderation.ListMuted(c.Request.Context(), room)
	if err != nil {
		h.logger.Error("failed to list muted users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list muted users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

// Mute handles POST /v1/admin/rooms/:hackathonId/:groupId/mute
func (h *AdminHandler) Mute(c *gin.Context) {
	room, target, actor, ok := h.moderationArgs(c)
	if !ok {
		return
	}
	h.respond(c, h.service.Mute(c.Request.Context(), actor, room, target, true))
}

// Unmute handles POST /v1/admin/rooms/:hackathonId/:groupId/unmute
func (h *AdminHandler) Unmute(c *gin.Context) {
	room, target, actor, ok := h.moderationArgs(c)
	if !ok {
		return
	}
	h.respond(c, h.service.Mute(c.Request.Context(), actor, room, target, false))
}

// Remove handles POST /v1/admin/rooms/:hackathonId/:groupId/remove
func (h *AdminHandler) Remove(c *gin.Context) {
	room, target, actor, ok := h.moderationArgs(c)
	if !ok {
		return
	}
	h.respond(c, h.service.Remove(c.Request.Context(), actor, room, target))
}

// Readmit handles POST /v1/admin/rooms/:hackathonId/:groupId/readmit.
// It lifts a removal flag before it expires.
func (h *AdminHandler) Readmit(c *gin.Context) {
	room, target, actor, ok := h.moderationArgs(c)
	if !ok {
		return
	}
	h.respond(c, h.service.Readmit(c.Request.Context(), actor, room, target))
}

func (h *AdminHandler) moderationArgs(c *gin.Context) (room models.RoomID, target uuid.UUID, actor *auth.Claims, ok bool) {
	room, ok = parseRoom(c)
	if !ok {
		return room, uuid.Nil, nil, false
	}

	var req moderationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return room, uuid.Nil, nil, false
	}

	actor = &auth.Claims{
		UserID:      middleware.GetUserID(c),
		DisplayName: middleware.GetDisplayName(c),
		Role:        middleware.GetRole(c),
	}
	return room, req.UserID, actor, true
}

func (h *AdminHandler) respond(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
	default:
		h.logger.Error("moderation action failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "moderation action failed"})
	}
}
