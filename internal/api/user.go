package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openlms/groupchat/internal/middleware"
	"github.com/openlms/groupchat/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me, the authenticated user's profile.
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}

	// A valid JWT for a user missing from the store means the account
	// was deleted after the token was issued.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}
