package observer

import (
	"errors"
	"fmt"
)

// Command types accepted from observers.
const (
	CommandConnect        = "connect"
	CommandSend           = "send"
	CommandStartVideoSync = "startVideoSync"
)

var ErrUnknownCommand = errors.New("unknown command")

// Command is a request from an observer.
type Command struct {
	Type    string `json:"type"`
	PeerID  string `json:"peerId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Commander executes observer commands.
type Commander interface {
	Initiate(peerID string) error
	SendChat(text string) error
	StartVideoSync() error
}

// CommandHandler routes commands to a Commander.
type CommandHandler struct {
	routes map[string]func(Command) error
}

func NewCommandHandler(c Commander) *CommandHandler {
	return &CommandHandler{
		routes: map[string]func(Command) error{
			CommandConnect: func(cmd Command) error {
				return c.Initiate(cmd.PeerID)
			},
			CommandSend: func(cmd Command) error {
				return c.SendChat(cmd.Message)
			},
			CommandStartVideoSync: func(Command) error {
				return c.StartVideoSync()
			},
		},
	}
}

// Handle executes cmd.
func (h *CommandHandler) Handle(cmd Command) error {
	route, ok := h.routes[cmd.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return route(cmd)
}
