package server

import (
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// ClientConn wraps a WebSocket connection with write synchronization, so
// the connection's own handler goroutine and the fan-out listener can both
// push frames safely.
type ClientConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// NewClientConn creates a new connection wrapper.
func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{ws: ws}
}

// ID returns the connection identity: the remote address:port pair, stable
// for the connection's lifetime and never reused while it is open.
func (c *ClientConn) ID() string {
	return c.ws.RemoteAddr().String()
}

// ReadCommand blocks until the next inbound frame arrives and returns its
// raw bytes. Frames are processed one at a time per connection.
func (c *ClientConn) ReadCommand() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Send marshals frame as a JSON text message. Safe for concurrent use.
func (c *ClientConn) Send(frame any) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return net.ErrClosed
	}
	c.closeMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(frame)
}

// Close closes the underlying WebSocket. Closing twice is a no-op.
func (c *ClientConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}
