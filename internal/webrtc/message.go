package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control stream message types.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeChat      = "chat"
	TypeVideoSync = "videoSync"
)

// Ping is sent by the master on every ping interval. Latency carries the
// master's latest one-way latency estimate in milliseconds once known.
type Ping struct {
	Type      string   `json:"type"`
	Timestamp float64  `json:"timestamp"`
	Latency   *float64 `json:"latency,omitempty"`
}

// Pong echoes a ping's timestamp unmodified.
type Pong struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// Chat carries an opaque chat payload.
type Chat struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// VideoSync asks the slave to seek to CurrentTime (seconds) and start
// playing at StartTime (unix milliseconds on the master clock).
type VideoSync struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"currentTime"`
	StartTime   float64 `json:"startTime"`
}

var errMissingType = errors.New("control message has no type")

// DecodeType returns the type tag of a control frame.
func DecodeType(data []byte) (string, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return "", fmt.Errorf("decode control message: %w", err)
	}
	if header.Type == "" {
		return "", errMissingType
	}
	return header.Type, nil
}

// Encode renders a control message as a JSON text frame.
func Encode(msg any) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode control message: %w", err)
	}
	return string(b), nil
}
