// Package signaling carries WebRTC call setup between two peers through the
// relay. It does not track call state; it only turns envelopes into typed
// events and back.
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeRegister     Type = "register"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice_candidate"
	TypeHangup       Type = "hangup"
	TypeReject       Type = "reject"
	TypeReconnect    Type = "reconnect"

	// keep-alive frames, never surfaced as events
	TypePing Type = "ping"
	TypePong Type = "pong"
)

// IsPeer reports whether t is addressed from one peer to another.
func (t Type) IsPeer() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeHangup, TypeReject, TypeReconnect:
		return true
	}
	return false
}

var (
	// ErrIncomplete is returned for peer envelopes without from or data.
	ErrIncomplete  = errors.New("signaling: envelope missing from or data")
	ErrNoRecipient = errors.New("signaling: recipient is required")
)

// Envelope is the JSON frame exchanged with the relay.
type Envelope struct {
	Type   Type            `json:"type"`
	UserID string          `json:"userId,omitempty"`
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

type OfferPayload struct {
	SDP      webrtc.SessionDescription `json:"sdp"`
	CallType CallType                  `json:"callType,omitempty"`
}

type AnswerPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ReasonPayload is the body of hangup, reject and reconnect.
type ReasonPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Message is one decoded envelope.
type Message interface {
	Type() Type
}

type Register struct {
	UserID string
}

type Offer struct {
	From, To string
	OfferPayload
}

type Answer struct {
	From, To string
	AnswerPayload
}

type ICECandidate struct {
	From, To string
	ICECandidatePayload
}

type Hangup struct {
	From, To string
	ReasonPayload
}

type Reject struct {
	From, To string
	ReasonPayload
}

type Reconnect struct {
	From, To string
	ReasonPayload
}

// Heartbeat is a ping or pong frame.
type Heartbeat struct {
	Kind Type
}

// Unknown holds an envelope whose type is not part of the protocol.
type Unknown struct {
	Kind Type
	Raw  json.RawMessage
}

func (Register) Type() Type     { return TypeRegister }
func (Offer) Type() Type        { return TypeOffer }
func (Answer) Type() Type       { return TypeAnswer }
func (ICECandidate) Type() Type { return TypeICECandidate }
func (Hangup) Type() Type       { return TypeHangup }
func (Reject) Type() Type       { return TypeReject }
func (Reconnect) Type() Type    { return TypeReconnect }
func (h Heartbeat) Type() Type  { return h.Kind }
func (u Unknown) Type() Type    { return u.Kind }

// Decode parses one frame. Peer envelopes without from or data give
// ErrIncomplete; a payload that does not fit its type's schema gives a
// decode error. Unrecognized types come back as Unknown.
func Decode(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("signaling: decode envelope: %w", err)
	}

	switch env.Type {
	case TypePing, TypePong:
		return Heartbeat{Kind: env.Type}, nil
	case TypeRegister:
		if env.UserID == "" {
			return nil, ErrIncomplete
		}
		return Register{UserID: env.UserID}, nil
	}
	if !env.Type.IsPeer() {
		return Unknown{Kind: env.Type, Raw: frame}, nil
	}
	if env.From == "" || len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, ErrIncomplete
	}

	var (
		msg     Message
		payload any
	)
	switch env.Type {
	case TypeOffer:
		m := &Offer{From: env.From, To: env.To}
		msg, payload = m, &m.OfferPayload
	case TypeAnswer:
		m := &Answer{From: env.From, To: env.To}
		msg, payload = m, &m.AnswerPayload
	case TypeICECandidate:
		m := &ICECandidate{From: env.From, To: env.To}
		msg, payload = m, &m.ICECandidatePayload
	case TypeHangup:
		m := &Hangup{From: env.From, To: env.To}
		msg, payload = m, &m.ReasonPayload
	case TypeReject:
		m := &Reject{From: env.From, To: env.To}
		msg, payload = m, &m.ReasonPayload
	default:
		m := &Reconnect{From: env.From, To: env.To}
		msg, payload = m, &m.ReasonPayload
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, fmt.Errorf("signaling: decode %s payload: %w", env.Type, err)
	}
	return deref(msg), nil
}

// deref hands out peer messages by value.
func deref(m Message) Message {
	switch v := m.(type) {
	case *Offer:
		return *v
	case *Answer:
		return *v
	case *ICECandidate:
		return *v
	case *Hangup:
		return *v
	case *Reject:
		return *v
	case *Reconnect:
		return *v
	}
	return m
}

// Encode builds a peer envelope from from to to.
func Encode(t Type, from, to string, payload any) ([]byte, error) {
	if to == "" {
		return nil, ErrNoRecipient
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signaling: encode %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, From: from, To: to, Data: data})
}

// RegisterFrame is the first frame on every signaling socket.
func RegisterFrame(userID string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeRegister, UserID: userID})
}
