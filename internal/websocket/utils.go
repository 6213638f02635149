package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// PongWait is how long the server waits for any client frame before
	// dropping the connection.
	PongWait = 60 * time.Second
	// PingPeriod must stay below PongWait.
	PingPeriod     = PongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// Conn serializes writes to a WebSocket. gorilla/websocket allows one
// concurrent reader and one concurrent writer.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps c and arms the read deadline, refreshed by pongs.
func NewConn(c *websocket.Conn) *Conn {
	c.SetReadLimit(maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(PongWait))
	})
	return &Conn{ws: c}
}

// WriteTyped sends a strongly-typed payload.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteEvent sends data under event, echoing seq.
func (c *Conn) WriteEvent(event Event, seq int64, data any) error {
	return c.WriteTyped(Response{Event: event, Seq: seq, Data: data})
}

// WriteError sends an error event.
func (c *Conn) WriteError(seq int64, code, msg string) error {
	return c.WriteTyped(Response{Event: EventError, Seq: seq, Error: &ErrorBody{Code: code, Message: msg}})
}

// Ping sends a control ping.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ReadJSON reads and decodes one message. Any client message extends the
// read deadline.
func (c *Conn) ReadJSON(v any) error {
	if err := c.ws.ReadJSON(v); err != nil {
		return err
	}
	return c.ws.SetReadDeadline(time.Now().Add(PongWait))
}

// Close sends a close frame with code and reason, then closes the socket.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.ws.Close()
}
