// Package message defines the envelope and addressing types routed by the hub.
package message

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the kinds of message the hub understands. Content for
// types other than the control types below is opaque to the hub.
type Type string

// Message types
const (
	TypeText      Type = "text"
	TypeBroadcast Type = "broadcast"
	TypeSystem    Type = "system"
	TypeHeartbeat Type = "heartbeat"
	TypeAck       Type = "ack"
	TypeNotify    Type = "notify"
	TypeFileSync  Type = "file_sync"
)

// TargetType enumerates the addressing modes
type TargetType string

// Addressing modes
const (
	TargetUser   TargetType = "user"
	TargetConn   TargetType = "connection"
	TargetDevice TargetType = "device"
	TargetGroup  TargetType = "group"
	TargetAll    TargetType = "all"
)

// ErrBadType means the message type is not one we route
var ErrBadType = errors.New("unknown message type")

// ErrBadTarget means the target descriptor has an unknown type
var ErrBadTarget = errors.New("unknown target type")

// Sender identifies where a message came from; filled in by the owning
// connection when a frame is read, never trusted from the wire.
type Sender struct {
	UserID   string `json:"user_id,omitempty"`
	ConnID   string `json:"conn_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Target describes who a message is addressed to. A nil Target on a
// routed message means broadcast.
type Target struct {
	Type      TargetType `json:"type"`
	UserIDs   []string   `json:"user_ids,omitempty"`
	ConnIDs   []string   `json:"conn_ids,omitempty"`
	DeviceIDs []string   `json:"device_ids,omitempty"`
	Groups    []string   `json:"groups,omitempty"`
}

// Message is the envelope; immutable once constructed
type Message struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	From      *Sender         `json:"from,omitempty"`
	Target    *Target         `json:"target,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// New returns a message of the given type with a fresh ID and the
// timestamp set to now
func New(t Type) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().Unix(),
	}
}

// WithContent marshals v into the message content and returns the
// message for chaining; marshalling failure leaves content empty.
func (m *Message) WithContent(v interface{}) *Message {
	data, err := json.Marshal(v)
	if err != nil {
		return m
	}
	m.Content = data
	return m
}

// WithTarget sets the target descriptor
func (m *Message) WithTarget(t *Target) *Message {
	m.Target = t
	return m
}

// DecodeContent unmarshals the opaque content into v
func (m *Message) DecodeContent(v interface{}) error {
	return json.Unmarshal(m.Content, v)
}

// Encode serialises the message for the wire
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Parse decodes an inbound frame and validates the enumerated fields.
// Sender identity and timestamp are stamped by the connection, not here.
func Parse(data []byte) (*Message, error) {

	m := &Message{}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}

	switch m.Type {
	case TypeText, TypeBroadcast, TypeSystem, TypeHeartbeat, TypeAck, TypeNotify, TypeFileSync:
	default:
		return nil, ErrBadType
	}

	if m.Target != nil {
		switch m.Target.Type {
		case TargetUser, TargetConn, TargetDevice, TargetGroup, TargetAll:
		default:
			return nil, ErrBadTarget
		}
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	return m, nil
}

// Notification is the typed body carried by notify messages
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

// SystemBody is the typed body carried by system messages
type SystemBody struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
	ConnID string `json:"conn_id,omitempty"`
}

// AckBody identifies the message being acknowledged
type AckBody struct {
	ID string `json:"id"`
}

// NewNotification returns a notify message with a typed body
func NewNotification(title, msg, level string) *Message {
	return New(TypeNotify).WithContent(Notification{Title: title, Message: msg, Level: level})
}

// NewSystem returns a system message describing an event
func NewSystem(event, detail string) *Message {
	return New(TypeSystem).WithContent(SystemBody{Event: event, Detail: detail})
}

// NewConnected returns the system message sent to a connection on
// successful registration
func NewConnected(connID string) *Message {
	return New(TypeSystem).WithContent(SystemBody{Event: "connected", ConnID: connID})
}

// NewAck returns an ack for m
func NewAck(m *Message) *Message {
	return New(TypeAck).WithContent(AckBody{ID: m.ID})
}
