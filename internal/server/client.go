package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer.
	pongWait = 30 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Capacity of the per-client send buffer.
	sendBufferSize = 256

	// Consecutive enqueue failures before a client is declared too slow.
	maxSendAttempts = 3
)

// Client is one authenticated WebSocket connection. It implements
// presence.Session so the registry and chat components can route to it
// without knowing about the transport.
type Client struct {
	id     int64
	userID string
	name   string

	conn        net.Conn
	send        chan []byte
	server      *Server
	connectedAt time.Time

	closeOnce    sync.Once
	sendAttempts int32
}

func newClient(id int64, userID, name string, conn net.Conn, srv *Server) *Client {
	return &Client{
		id:          id,
		userID:      userID,
		name:        name,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		server:      srv,
		connectedAt: time.Now(),
	}
}

func (c *Client) ID() int64           { return c.id }
func (c *Client) UserID() string      { return c.userID }
func (c *Client) DisplayName() string { return c.name }

// Enqueue offers data to the send buffer without blocking. A full buffer
// counts one failure; after maxSendAttempts consecutive failures the client
// is closed with a policy violation frame so it cannot stall routing for
// everyone else.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case c.send <- data:
		atomic.StoreInt32(&c.sendAttempts, 0)
		return true
	default:
		attempts := atomic.AddInt32(&c.sendAttempts, 1)
		if attempts >= maxSendAttempts {
			c.server.logger.Warn().
				Int64("client_id", c.id).
				Str("user_id", c.userID).
				Int32("consecutive_failures", attempts).
				Msg("Disconnecting slow client")
			slowClientsDisconnected.Inc()
			c.closeWithStatus(ws.StatusPolicyViolation, "client too slow to process messages")
		}
		return false
	}
}

// close shuts the connection down exactly once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// closeWithStatus sends a close frame with the given status before closing.
func (c *Client) closeWithStatus(status ws.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			body := ws.NewCloseFrameBody(status, reason)
			ws.WriteFrame(c.conn, ws.NewCloseFrame(body))
			c.conn.Close()
		}
	})
}

// readPump reads frames off the connection and dispatches them in order.
// Handling is synchronous so one connection's events cannot reorder.
func (c *Client) readPump() {
	defer c.server.disconnectClient(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		bytesReceived.Add(float64(len(msg)))

		switch op {
		case ws.OpText:
			c.server.dispatch(c, msg)
		case ws.OpClose:
			return
		}
		// Pings are answered by the library.
	}
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				if c.conn != nil {
					wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
				}
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, message); err != nil {
				c.server.logger.Debug().
					Int64("client_id", c.id).
					Err(err).
					Msg("Failed to write message to client")
				return
			}
			messagesSent.Inc()
			bytesSent.Add(float64(len(message)))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
