package chat

import (
	"context"
	"encoding/json"

	"github.com/openlms/groupchat/internal/models"
	"go.uber.org/zap"
)

// maxMessageBody caps send_message bodies; anything larger is rejected
// before it reaches the store.
const maxMessageBody = 4000

// Handler decodes inbound frames and routes them through the service.
// One dispatch function per connection keeps the client vocabulary in a
// single switch instead of scattered callback registrations.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// HandleEvent processes one frame from a connection. Operation failures
// go back to the same connection as an error event, never to anyone
// else, and mutate nothing.
func (h *Handler) HandleEvent(ctx context.Context, c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(c, CodeBadRequest, "malformed event")
		return
	}

	switch env.Type {
	case EventJoinRoom:
		var p JoinRoomPayload
		if !h.decode(c, env.Payload, &p) {
			return
		}
		if p.Room().IsZero() {
			h.sendError(c, CodeBadRequest, "hackathonId and groupId are required")
			return
		}
		h.reply(c, h.service.Join(ctx, c, p.Room()))

	case EventLeaveRoom:
		var p JoinRoomPayload
		if !h.decode(c, env.Payload, &p) {
			return
		}
		h.reply(c, h.service.Leave(c, p.Room()))

	case EventSendMessage:
		var p SendMessagePayload
		if !h.decode(c, env.Payload, &p) {
			return
		}
		if p.Message == "" || len(p.Message) > maxMessageBody {
			h.sendError(c, CodeBadRequest, "message body must be 1 to 4000 characters")
			return
		}
		kind := p.MessageType
		if kind == "" {
			kind = models.MessageKindText
		}
		switch kind {
		case models.MessageKindText, models.MessageKindImage, models.MessageKindFile:
		default:
			h.sendError(c, CodeBadRequest, "unknown message type")
			return
		}
		_, err := h.service.SendMessage(ctx, c, p.Room(), p.Message, kind, p.ReplyToMessageID)
		h.reply(c, err)

	case EventTypingStart:
		var p JoinRoomPayload
		if !h.decode(c, env.Payload, &p) {
			return
		}
		h.reply(c, h.service.SetTyping(c, p.Room(), true))

	case EventTypingStop:
		var p JoinRoomPayload
		if !h.decode(c, env.Payload, &p) {
			return
		}
		h.reply(c, h.service.SetTyping(c, p.Room(), false))

	case EventMarkRead:
		var p JoinRoomPayload
		if !h.decode(c, env.Payload, &p) {
			return
		}
		h.reply(c, h.service.MarkRead(ctx, c, p.Room()))

	case EventDeleteMessage:
		var p DeleteMessagePayload
		if !h.decode(c, env.Payload, &p) {
			return
		}
		h.reply(c, h.service.DeleteMessage(ctx, c, p.MessageID))

	default:
		h.sendError(c, CodeBadRequest, "unknown event type")
	}
}

func (h *Handler) decode(c *Client, raw json.RawMessage, dest any) bool {
	if len(raw) == 0 {
		h.sendError(c, CodeBadRequest, "missing payload")
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		h.sendError(c, CodeBadRequest, "malformed payload")
		return false
	}
	return true
}

// reply surfaces an operation error to the originating connection.
// Success is silent; the confirmation is the broadcast itself.
func (h *Handler) reply(c *Client, err error) {
	if err == nil {
		return
	}
	code := ErrorCode(err)
	if code == CodeInternalError {
		// Don't leak store internals to the client.
		h.logger.Error("event handling failed",
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
		h.sendError(c, code, "internal error")
		return
	}
	h.sendError(c, code, err.Error())
}

func (h *Handler) sendError(c *Client, code, message string) {
	if err := c.sendEvent(EventError, ErrorPayload{Code: code, Message: message}); err != nil {
		h.logger.Warn("error event send failed",
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
	}
}
