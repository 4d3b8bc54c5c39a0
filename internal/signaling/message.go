package signaling

import (
	"encoding/json"
	"fmt"
)

// Message represents all WebSocket messages between a client and the rendezvous server.
//
// Server to client: {type:"clientId", id} and relayed {type, sender, data}.
// Client to server: {type, target, data}.
type Message struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Target string          `json:"target,omitempty"`
	Sender string          `json:"sender,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Message type constants.
const (
	TypeClientID     = "clientId"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// IsRelayable reports whether the server forwards messages of this type to a target.
func IsRelayable(msgType string) bool {
	switch msgType {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// NewMessage builds an addressed message with data encoded as JSON.
func NewMessage(msgType, target string, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Message{Type: msgType, Target: target, Data: raw}, nil
}
