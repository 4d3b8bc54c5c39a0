package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/Lockstep/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is a single rendezvous connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	limiter *rate.Limiter

	// id is assigned by the hub's Run goroutine.
	id string

	// send is the outbound queue drained by WritePump.
	send chan *signaling.Message
}

// NewClient wraps an upgraded connection.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		limiter: rate.NewLimiter(h.rateLimit, h.rateBurst),
		send:    make(chan *signaling.Message, sendBuffer),
	}
}

func (c *Client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. Malformed or
// rate-limited frames are dropped without closing the connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("client read error", "remote", c.remoteAddr(), "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.hub.metrics.MessageDropped(ReasonRateLimited)
			continue
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.metrics.MessageDropped(ReasonMalformed)
			c.hub.logger.Debug("dropping malformed frame", "remote", c.remoteAddr(), "error", err)
			continue
		}

		c.hub.submit(c, &msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. It is the
// only writer on the connection, so messages to one target keep their order.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.logger.Debug("client write error", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
