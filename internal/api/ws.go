package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/openlms/groupchat/internal/auth"
	"github.com/openlms/groupchat/internal/chat"
	"github.com/openlms/groupchat/internal/ws"
	"go.uber.org/zap"
)

// WSHandler upgrades GET /v1/ws to a WebSocket session.
//
// The credential rides in the "token" query parameter because browsers
// can't set Authorization headers on WebSocket dials. It is checked
// exactly once, before the upgrade: a bad token means 401 and no
// registration; the connection never exists as far as the chat layer
// is concerned.
type WSHandler struct {
	service   *chat.Service
	handler   *chat.Handler
	jwtSecret string
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewWSHandler(service *chat.Service, handler *chat.Handler, jwtSecret string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		service:   service,
		handler:   handler,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin dials are allowed; the token is the gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *WSHandler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := auth.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := ws.NewConn(wsConn, h.service, h.handler, h.logger)
	client := chat.NewClient(claims, conn)
	conn.Start(client)
}
