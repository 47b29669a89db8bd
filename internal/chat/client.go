package chat

import (
	"github.com/google/uuid"
	"github.com/openlms/groupchat/internal/auth"
)

// Sink is the outbound half of a connection. The WebSocket adapter
// implements it with a buffered send channel; tests implement it with
// an in-memory recorder. Send must not block the caller.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// Client is one live session of an authenticated principal. The
// credential was validated at handshake time; everything after trusts
// these fields for the life of the connection. A principal may hold any
// number of clients at once (one per browser tab).
type Client struct {
	id          string
	userID      uuid.UUID
	displayName string
	role        string
	sink        Sink
}

func NewClient(claims *auth.Claims, sink Sink) *Client {
	return &Client{
		id:          uuid.NewString(),
		userID:      claims.UserID,
		displayName: claims.DisplayName,
		role:        claims.Role,
		sink:        sink,
	}
}

func (c *Client) ID() string          { return c.id }
func (c *Client) UserID() uuid.UUID   { return c.userID }
func (c *Client) DisplayName() string { return c.displayName }
func (c *Client) Role() string        { return c.role }
func (c *Client) IsAdmin() bool       { return c.role == "admin" }

func (c *Client) send(data []byte) error {
	return c.sink.Send(data)
}

// sendEvent delivers one event to this connection only. Encoding
// failures are programmer errors on server-built payloads, so the error
// is just returned for logging.
func (c *Client) sendEvent(t EventType, payload any) error {
	data, err := Encode(t, payload)
	if err != nil {
		return err
	}
	return c.send(data)
}
