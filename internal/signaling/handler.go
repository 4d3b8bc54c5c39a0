package signaling

import (
	"encoding/json"
	"log/slog"
)

// Dispatcher receives the server messages a watch client cares about.
type Dispatcher interface {
	HandleClientID(id string)
	HandleOffer(payload json.RawMessage, senderID string) error
	HandleAnswer(payload json.RawMessage, senderID string) error
	HandleCandidate(payload json.RawMessage, senderID string) error
}

// Source yields messages received from the server.
type Source interface {
	Incoming() <-chan *Message
}

// Handler routes incoming signaling messages to a Dispatcher.
type Handler struct {
	source Source
	routes map[string]func(*Message) error
	logger *slog.Logger
}

// NewHandler creates a new message handler.
func NewHandler(source Source, dispatcher Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source: source,
		logger: logger,
		routes: map[string]func(*Message) error{
			TypeClientID: func(msg *Message) error {
				dispatcher.HandleClientID(msg.ID)
				return nil
			},
			TypeOffer: func(msg *Message) error {
				return dispatcher.HandleOffer(msg.Data, msg.Sender)
			},
			TypeAnswer: func(msg *Message) error {
				return dispatcher.HandleAnswer(msg.Data, msg.Sender)
			},
			TypeICECandidate: func(msg *Message) error {
				return dispatcher.HandleCandidate(msg.Data, msg.Sender)
			},
		},
	}
}

// Start routes messages until the source channel is closed.
func (h *Handler) Start() {
	for msg := range h.source.Incoming() {
		h.Dispatch(msg)
	}
}

// Dispatch routes a single message. Unknown types are ignored.
func (h *Handler) Dispatch(msg *Message) {
	route, ok := h.routes[msg.Type]
	if !ok {
		h.logger.Debug("ignoring unknown signaling message", "type", msg.Type)
		return
	}
	if err := route(msg); err != nil {
		h.logger.Warn("signaling message rejected", "type", msg.Type, "sender", msg.Sender, "error", err)
	}
}
