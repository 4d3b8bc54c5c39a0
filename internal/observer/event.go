package observer

import (
	"encoding/json"
	"time"
)

// Event types delivered to observers.
const (
	EventClientID         = "clientId"
	EventConnectionStatus = "connectionStatus"
	EventMessage          = "message"
	EventLatencyUpdate    = "latencyUpdate"
	EventPlayback         = "playback"
)

// Connection status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Event is a UI-facing notification. Only the fields relevant to Type are set.
type Event struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Status   string          `json:"status,omitempty"`
	IsMaster *bool           `json:"isMaster,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Latency  *float64        `json:"latency,omitempty"`
	Action   string          `json:"action,omitempty"`
	Time     *float64        `json:"time,omitempty"`
}

func ClientID(id string) Event {
	return Event{Type: EventClientID, ID: id}
}

func ConnectionStatus(status string, isMaster bool) Event {
	return Event{Type: EventConnectionStatus, Status: status, IsMaster: &isMaster}
}

func Message(data json.RawMessage) Event {
	return Event{Type: EventMessage, Data: data}
}

// LatencyUpdate reports a one-way latency in milliseconds.
func LatencyUpdate(latency time.Duration) Event {
	ms := float64(latency) / float64(time.Millisecond)
	return Event{Type: EventLatencyUpdate, Latency: &ms}
}

func Playback(action string, position float64) Event {
	return Event{Type: EventPlayback, Action: action, Time: &position}
}

// Text returns chat data as a string. JSON strings are unquoted; anything
// else is returned as raw JSON.
func (e Event) Text() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}
