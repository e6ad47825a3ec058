package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type clientConn struct {
	rawConn   *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func (c *clientConn) WriteEnvelope(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.rawConn.WriteJSON(env)
}

func (c *clientConn) Close() error {
	return c.rawConn.Close()
}
