package models

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// MessageType is the discriminator carried in every signaling message.
type MessageType string

const (
	MessageTypeJoined    MessageType = "joined"
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"
	MessageTypeLeft      MessageType = "left"
	MessageTypeReady     MessageType = "ready"
)

// ErrInvalidMessage is returned for payloads that are not a JSON object.
var ErrInvalidMessage = errors.New("invalid signaling message")

// Message is a signaling message. Type, Data and ID are the fields the relay
// and the client understand; any other top-level field a client sends is kept
// verbatim in extra and written back out when the message is relayed.
type Message struct {
	Type MessageType
	Data json.RawMessage
	// ID is the sender identity attached by the relay.
	ID string
	// Ready is only set by NewReady. A ready field arriving from the wire is
	// kept in extra like any other field.
	Ready bool

	extra map[string]json.RawMessage
}

// NewReady builds the private message that tells a connection its identity.
func NewReady(id string) Message {
	return Message{Type: MessageTypeReady, ID: id, Ready: true}
}

// NewLeft builds the departure notice for id.
func NewLeft(id string) Message {
	return Message{Type: MessageTypeLeft, ID: id}
}

// NewMessage builds a client message with an optional data payload.
func NewMessage(t MessageType, data any) (Message, error) {
	msg := Message{Type: t}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, errors.Wrapf(err, "marshal %s data", t)
	}
	msg.Data = raw
	return msg, nil
}

// Tagged returns a copy of m carrying the sender identity id.
func (m Message) Tagged(id string) Message {
	m.ID = id
	return m
}

// Extra returns a top-level field that is not part of the known schema.
func (m Message) Extra(key string) (json.RawMessage, bool) {
	v, ok := m.extra[key]
	return v, ok
}

// ParseMessage decodes a JSON text frame.
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m *Message) UnmarshalJSON(b []byte) error {
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return errors.Wrap(ErrInvalidMessage, "expected a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return errors.Wrap(ErrInvalidMessage, err.Error())
	}

	*m = Message{}
	if raw, ok := fields["type"]; ok {
		var t string
		// A type that is not a non-empty string is not ours to interpret; it rides in
		// extra and goes back out unchanged.
		if err := json.Unmarshal(raw, &t); err == nil && t != "" {
			m.Type = MessageType(t)
			delete(fields, "type")
		}
	}
	if raw, ok := fields["data"]; ok {
		m.Data = raw
		delete(fields, "data")
	}
	if raw, ok := fields["id"]; ok {
		// Only a string id survives; anything else is overwritten on relay.
		_ = json.Unmarshal(raw, &m.ID)
		delete(fields, "id")
	}
	if len(fields) > 0 {
		m.extra = fields
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.extra)+4)
	for k, v := range m.extra {
		out[k] = v
	}

	if m.Type != "" {
		raw, err := json.Marshal(string(m.Type))
		if err != nil {
			return nil, err
		}
		out["type"] = raw
	}
	if len(m.Data) > 0 {
		out["data"] = m.Data
	}
	if m.Ready {
		out["ready"] = json.RawMessage("true")
	}
	if m.ID != "" {
		raw, err := json.Marshal(m.ID)
		if err != nil {
			return nil, err
		}
		out["id"] = raw
	}

	return json.Marshal(out)
}
