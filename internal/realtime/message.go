// Package realtime implements the bidirectional channel that carries event
// updates between clients, and the message types spoken on it.
//
// Frames are JSON text messages of the form {"type": "...", "data": {...}}.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmynk/eventlist/internal/models"
)

// MessageType names a channel message.
type MessageType string

const (
	TypeEventUpdate    MessageType = "event:update"
	TypeEventDelete    MessageType = "event:delete"
	TypeEventsReload   MessageType = "events:reload"
	TypeFriendRequest  MessageType = "friend:request"
	TypeFriendAccepted MessageType = "friend:accepted"
	TypeFriendDeclined MessageType = "friend:declined"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
)

// IsFriend reports whether t belongs to the friends workflow.
func (t MessageType) IsFriend() bool {
	return strings.HasPrefix(string(t), "friend:")
}

// Message is one frame on the channel.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventUpdate announces a change to an event. EventData is partial: fields
// absent from the payload keep their prior value on the receiving side.
type EventUpdate struct {
	EventID    models.ID         `json:"eventId"`
	EventData  models.EventPatch `json:"eventData"`
	FromUserID string            `json:"fromUserId"`
	// ServerTs is stamped by the relay in Unix milliseconds.
	ServerTs int64 `json:"serverTs,omitempty"`
}

// EventDelete announces that an event was deleted.
type EventDelete struct {
	EventID      models.ID `json:"eventId"`
	FromUserID   string    `json:"fromUserId"`
	Participants []string  `json:"participants,omitempty"`
}

// Pong answers a ping with the client's timestamp echoed back.
type Pong struct {
	ClientTs int64 `json:"clientTs"`
	ServerTs int64 `json:"serverTs"`
}

// NewMessage encodes v as the data of a message of type t. v may be nil.
func NewMessage(t MessageType, v any) (Message, error) {
	msg := Message{Type: t}
	if v == nil {
		return msg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s: %w", t, err)
	}
	msg.Data = data
	return msg, nil
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", m.Type, err)
	}
	return nil
}
