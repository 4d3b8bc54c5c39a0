package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/BioHazard786/Lockstep/internal/signaling"
)

const (
	// DefaultRateLimit is the sustained inbound frame rate allowed per client.
	DefaultRateLimit = 20
	// DefaultRateBurst is the inbound frame burst allowed per client.
	DefaultRateBurst = 40
)

// envelope pairs an inbound message with the client that sent it.
type envelope struct {
	client *Client
	msg    *signaling.Message
}

// Hub is the rendezvous server core. It assigns identities to connected
// clients and relays offer, answer and ice-candidate messages between them.
//
// Run is the only goroutine that mutates the identity table.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan envelope
	done       chan struct{}

	generate  IDGenerator
	metrics   Collector
	logger    *slog.Logger
	rateLimit rate.Limit
	rateBurst int
}

// Option configures a Hub.
type Option func(*Hub)

// WithIDGenerator replaces WordID.
func WithIDGenerator(gen IDGenerator) Option {
	return func(h *Hub) { h.generate = gen }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c Collector) Option {
	return func(h *Hub) { h.metrics = c }
}

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithRateLimit sets the per-client inbound frame limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Hub) {
		h.rateLimit = rate.Limit(perSecond)
		h.rateBurst = burst
	}
}

// New creates a new Hub instance.
func New(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan envelope, 64),
		done:       make(chan struct{}),
		generate:   WordID,
		metrics:    NoopCollector{},
		logger:     slog.Default(),
		rateLimit:  DefaultRateLimit,
		rateBurst:  DefaultRateBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main processing loop and blocks until ctx is done.
// On exit every client's send queue is closed, which ends its write pump.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)

		case env := <-h.inbound:
			h.relay(env)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Register hands a new connection to the hub. It reports false when the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(c *Client, msg *signaling.Message) {
	select {
	case h.inbound <- envelope{client: c, msg: msg}:
	case <-h.done:
	}
}

// ClientIDs returns the identities currently registered, sorted.
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	id := h.generate()
	for {
		if _, taken := h.clients[id]; !taken {
			break
		}
		id = h.generate()
	}
	c.id = id
	h.clients[id] = c
	h.mu.Unlock()

	h.metrics.ClientConnected()
	h.logger.Info("client registered", "client", id, "remote", c.remoteAddr())
	h.deliver(c, &signaling.Message{Type: signaling.TypeClientID, ID: id})
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.id]
	if ok && current == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	if !ok || current != c {
		return
	}
	h.metrics.ClientDisconnected()
	h.logger.Info("client unregistered", "client", c.id)
	close(c.send)
}

// relay forwards a message to its target with the sender set to the
// hub-assigned identity of the originating client.
func (h *Hub) relay(env envelope) {
	msg := env.msg
	if !signaling.IsRelayable(msg.Type) {
		h.metrics.MessageDropped(ReasonUnknownType)
		h.logger.Debug("dropping unknown message type", "client", env.client.id, "type", msg.Type)
		return
	}

	h.mu.RLock()
	sender, registered := h.clients[env.client.id]
	target, found := h.clients[msg.Target]
	h.mu.RUnlock()

	if !registered || sender != env.client {
		return
	}
	if !found {
		h.metrics.MessageDropped(ReasonUnknownTarget)
		h.logger.Debug("dropping message for unknown target", "client", sender.id, "type", msg.Type, "target", msg.Target)
		return
	}

	out := &signaling.Message{
		Type:   msg.Type,
		Sender: sender.id,
		Data:   msg.Data,
	}
	if h.deliver(target, out) {
		h.metrics.MessageRelayed(msg.Type)
		h.logger.Debug("relayed message", "type", msg.Type, "from", sender.id, "to", target.id)
	}
}

// deliver enqueues without blocking the hub; a full queue drops the message.
func (h *Hub) deliver(c *Client, msg *signaling.Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		h.metrics.MessageDropped(ReasonQueueFull)
		h.logger.Warn("client send queue full, dropping message", "client", c.id, "type", msg.Type)
		return false
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
		h.metrics.ClientDisconnected()
	}
}
