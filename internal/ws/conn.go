package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openlms/groupchat/internal/chat"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192

	// sendBuffer is the per-connection outbound queue. A client that
	// can't drain this fast is dropped rather than allowed to stall
	// the broadcast path.
	sendBuffer = 256
)

var errSendBufferFull = errors.New("send buffer full")

// Conn adapts one gorilla WebSocket connection to the chat layer's
// Sink. Writes go through a buffered channel drained by a single write
// pump (gorilla allows only one concurrent writer); reads are decoded
// frames handed to the dispatch handler.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	client  *chat.Client
	service *chat.Service
	handler *chat.Handler
}

func NewConn(ws *websocket.Conn, service *chat.Service, handler *chat.Handler, logger *zap.Logger) *Conn {
	return &Conn{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		logger:  logger,
		service: service,
		handler: handler,
	}
}

// Send queues one frame for the write pump. Non-blocking: a full
// buffer is an error, and the service reacts by unregistering the
// connection.
func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Start registers the client and runs the pumps. The read pump owns
// the connection's lifetime: when it returns (transport close, read
// error, idle timeout) the client is unregistered and every joined
// room is told of the departure.
func (c *Conn) Start(client *chat.Client) {
	c.client = client
	c.service.Register(client)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	// The upgrade request's context dies when the HTTP handler
	// returns; this connection outlives it.
	ctx := context.Background()

	defer func() {
		c.service.Unregister(c.client)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					zap.String("conn_id", c.client.ID()),
					zap.Error(err),
				)
			}
			return
		}

		c.handler.HandleEvent(ctx, c.client, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
