package broadcaster

import (
	"encoding/json"
	"math/rand"
	"time"
)

// MessageType defines the kinds of WebSocket messages exchanged between
// the agent and a connected operator dashboard.
type MessageType string

const (
	// Agent -> dashboard messages
	MessageTypeRegister     MessageType = "register"
	MessageTypePhaseChanged MessageType = "phase_changed"
	MessageTypePong         MessageType = "pong"

	// Dashboard -> agent messages
	MessageTypeRegistered MessageType = "registered"
	MessageTypePing       MessageType = "ping"
)

// WSMessage is the envelope for every message exchanged over the
// broadcast connection.
type WSMessage struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Network   string                 `json:"network,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewMessage creates a new WSMessage with the given type.
func NewMessage(msgType MessageType) *WSMessage {
	return &WSMessage{
		ID:        generateMessageID(),
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   make(map[string]interface{}),
	}
}

// JSON serializes the message to JSON bytes.
func (m *WSMessage) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage deserializes a JSON message.
func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetPayload sets the payload from a typed struct.
func (m *WSMessage) SetPayload(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &m.Payload)
}

// RegisterPayload is the payload for a register message.
type RegisterPayload struct {
	Indexer  string   `json:"indexer"`
	Version  string   `json:"version,omitempty"`
	Networks []string `json:"networks"`
}

// PhaseChangedPayload is the payload for a phase_changed message: one
// reconciler pass's progress on one network.
type PhaseChangedPayload struct {
	Network string `json:"network"`
	Phase   string `json:"phase"`
	Detail  string `json:"detail,omitempty"`
}

func generateMessageID() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return "msg-" + string(b)
}
