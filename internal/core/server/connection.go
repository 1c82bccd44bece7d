package server

import (
	"net"
	"sync"

	"github.com/google/uuid"

	"transform_nexus/internal/shared"
)

// Connection is one accepted client socket and its receive buffer. The
// buffer is allocated once and reused for every message; only the handler
// goroutine touches it.
type Connection struct {
	id     string
	raw    net.Conn
	conn   *shared.CountedConn
	buffer []byte

	closeOnce sync.Once
	closeErr  error
}

func newConnection(nc net.Conn, bufferSize int) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		raw:    nc,
		conn:   shared.NewCountedConn(nc),
		buffer: make([]byte, bufferSize),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Stats returns bytes received from and sent to the client.
func (c *Connection) Stats() (received, sent uint64) {
	return c.conn.Received(), c.conn.Sent()
}

// Close shuts down both directions and closes the socket. Safe to call more
// than once and from any goroutine.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if tc, ok := c.raw.(*net.TCPConn); ok {
			_ = tc.CloseRead()
			_ = tc.CloseWrite()
		}
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}
