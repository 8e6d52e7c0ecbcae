package push

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cuemby/lobby/pkg/types"
)

// MessageType is the application-level frame kind
type MessageType string

const (
	// Outbound
	MessageEvent MessageType = "event"
	MessagePong  MessageType = "pong"

	// Inbound
	MessagePing MessageType = "ping"
)

// Message is one JSON text frame on a push channel. Operator channels carry
// Event, visitor channels carry Status.
type Message struct {
	Type      MessageType          `json:"type"`
	Event     *types.AdminEvent    `json:"event,omitempty"`
	Status    *types.VisitorStatus `json:"status,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// EventMessage wraps an admin event for operators
func EventMessage(ev *types.AdminEvent) *Message {
	return &Message{Type: MessageEvent, Event: ev, Timestamp: time.Now().UTC()}
}

// StatusMessage wraps a visitor status change
func StatusMessage(status *types.VisitorStatus) *Message {
	return &Message{Type: MessageEvent, Status: status, Timestamp: time.Now().UTC()}
}

func pongFrame() []byte {
	data, _ := json.Marshal(&Message{Type: MessagePong, Timestamp: time.Now().UTC()})
	return data
}

// isPing accepts both the bare "ping" text the browser clients send and a
// JSON {"type":"ping"} frame
func isPing(data []byte) bool {
	s := strings.TrimSpace(string(data))
	if s == string(MessagePing) {
		return true
	}
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == MessagePing
}
