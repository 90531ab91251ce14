// Package pubsub routes typed broadcast messages (chat, presence, alerts)
// over its own transport connection. Delivery is best effort.
package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nzlov/carewire/internal/transport"
)

type MessageType string

const (
	TypeChatMessage   MessageType = "chat_message"
	TypeExpertStatus  MessageType = "expert_status"
	TypeCallRequest   MessageType = "call_request"
	TypeNotification  MessageType = "notification"
	TypeSystemAlert   MessageType = "system_alert"
	TypeProfileUpdate MessageType = "profile_update"
	TypeAdminAlert    MessageType = "admin_alert"
	TypeExpertAlert   MessageType = "expert_alert"

	// TypeJoin is the control frame a router sends when it (re)connects.
	TypeJoin MessageType = "join"
)

// Known reports whether t is one of the routed message types.
func (t MessageType) Known() bool {
	switch t {
	case TypeChatMessage, TypeExpertStatus, TypeCallRequest, TypeNotification,
		TypeSystemAlert, TypeProfileUpdate, TypeAdminAlert, TypeExpertAlert:
		return true
	}
	return false
}

var ErrNoData = errors.New("pubsub: message has no data")

// Message is the pub/sub envelope. Timestamp is unix milliseconds.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Sender    string          `json:"sender,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
}

// Time returns Timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

type ChatMessage struct {
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
}

type ExpertStatus struct {
	ExpertID string `json:"expertId"`
	Status   string `json:"status"` // online, busy, offline
}

type CallRequest struct {
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName,omitempty"`
	CallType   string `json:"callType,omitempty"`
}

type NotificationPayload struct {
	ID    string          `json:"id,omitempty"`
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Kind  string          `json:"type,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SystemAlert struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type ProfileUpdate struct {
	UserID string         `json:"userId"`
	Fields map[string]any `json:"fields"`
}

type AdminAlert struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}

type ExpertAlert struct {
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message"`
}

// Unknown is the payload of a message type this package does not route.
type Unknown struct {
	Type MessageType
	Raw  json.RawMessage
}

// Payload decodes Data into the struct for m.Type.
func (m Message) Payload() (any, error) {
	var v any
	switch m.Type {
	case TypeChatMessage:
		v = &ChatMessage{}
	case TypeExpertStatus:
		v = &ExpertStatus{}
	case TypeCallRequest:
		v = &CallRequest{}
	case TypeNotification:
		v = &NotificationPayload{}
	case TypeSystemAlert:
		v = &SystemAlert{}
	case TypeProfileUpdate:
		v = &ProfileUpdate{}
	case TypeAdminAlert:
		v = &AdminAlert{}
	case TypeExpertAlert:
		v = &ExpertAlert{}
	default:
		return Unknown{Type: m.Type, Raw: m.Data}, nil
	}
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil, ErrNoData
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return nil, fmt.Errorf("pubsub: decode %s: %w", m.Type, err)
	}
	return v, nil
}

// NewMessage marshals payload into a message stamped with now.
func NewMessage(t MessageType, payload any, sender, recipient string, now time.Time) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("pubsub: encode %s: %w", t, err)
	}
	return Message{
		Type:      t,
		Data:      data,
		Timestamp: now.UnixMilli(),
		Sender:    sender,
		Recipient: recipient,
	}, nil
}

const (
	ChannelBroadcast = "broadcast"
	ChannelAdmins    = "admins"
	ChannelExperts   = "experts"
)

// UserChannel is the private channel of one user.
func UserChannel(userID string) string {
	return "user:" + userID
}

// Channels lists the channels id joins: its own, the shared one for its
// role, and broadcast.
func Channels(id transport.Identity) []string {
	chans := []string{UserChannel(id.UserID)}
	switch id.Role {
	case transport.RoleAdmin:
		chans = append(chans, ChannelAdmins)
	case transport.RoleExpert:
		chans = append(chans, ChannelExperts)
	}
	return append(chans, ChannelBroadcast)
}

// ChannelFor picks where the relay delivers m.
func ChannelFor(m Message) string {
	if m.Recipient != "" {
		return UserChannel(m.Recipient)
	}
	switch m.Type {
	case TypeAdminAlert:
		return ChannelAdmins
	case TypeExpertAlert:
		return ChannelExperts
	}
	return ChannelBroadcast
}

// Join is the data of the join control frame.
type Join struct {
	UserID   string   `json:"userId"`
	Role     string   `json:"role"`
	Channels []string `json:"channels"`
}

// JoinFrame builds the frame that subscribes id to its channels.
func JoinFrame(id transport.Identity, now time.Time) ([]byte, error) {
	m, err := NewMessage(TypeJoin, Join{
		UserID:   id.UserID,
		Role:     string(id.Role),
		Channels: Channels(id),
	}, id.UserID, "", now)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
