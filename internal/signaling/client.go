package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/BioHazard786/Lockstep/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// DefaultRetryDelay is the fixed pause between reconnect attempts.
	DefaultRetryDelay = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("not connected to rendezvous server")
	ErrQueueFull    = errors.New("signaling send queue is full")
)

// Client manages the WebSocket connection to the rendezvous server.
// It reconnects after a fixed delay for as long as Run's context is alive.
type Client struct {
	serverURL  string
	dialer     *websocket.Dialer
	clock      clockwork.Clock
	retryDelay time.Duration
	logger     *slog.Logger

	incoming chan *Message
	outgoing chan *Message

	mu        sync.RWMutex
	connected bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock sets the clock driving the reconnect delay.
func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new signaling client
func NewClient(serverURL string, opts ...ClientOption) *Client {
	resolver := dns.NewResolver()
	c := &Client{
		serverURL: serverURL,
		dialer: &websocket.Dialer{
			NetDialContext:   resolver.DialContext,
			HandshakeTimeout: 10 * time.Second,
		},
		clock:      clockwork.NewRealClock(),
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
		incoming:   make(chan *Message, 16),
		outgoing:   make(chan *Message, 32),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects to the server and keeps reconnecting until ctx is cancelled.
// Incoming is closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.incoming)

	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("rendezvous connection lost", "url", c.serverURL, "error", err, "retry_in", c.retryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.retryDelay):
		}
	}
}

// connectOnce serves a single connection until it fails or ctx ends.
func (c *Client) connectOnce(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.drainOutgoing()
	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Info("connected to rendezvous server", "url", c.serverURL)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	readDone := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readDone <- c.readPump(ctx, conn)
	}()

	err = c.writePump(ctx, conn, readDone)
	conn.Close()
	wg.Wait()
	return err
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("dropping malformed server frame", "error", err)
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writePump writes queued messages and sends periodic pings.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, readDone <-chan error) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("write %s: %w", msg.Type, err)
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}

		case err := <-readDone:
			return err

		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// SendMessage queues a message for the server. Messages sent while
// disconnected are dropped and reported with ErrNotConnected.
func (c *Client) SendMessage(msg *Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}
	select {
	case c.outgoing <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Incoming returns the channel for receiving messages.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Connected reports whether a server connection is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

// drainOutgoing discards messages queued for a previous connection.
func (c *Client) drainOutgoing() {
	for {
		select {
		case <-c.outgoing:
		default:
			return
		}
	}
}
