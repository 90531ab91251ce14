package main

import (
	"encoding/json"

	"github.com/nzlov/carewire/internal/pubsub"
	"github.com/nzlov/carewire/internal/signaling"
)

const (
	C_OK   = "0"
	C_FAIL = "1"
	C_AUTH = "2"
)

// systemSender stamps messages injected through the admin endpoint.
const systemSender = "system"

// header holds the routing fields shared by signaling envelopes and pub/sub
// messages.
type header struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	To        string `json:"to"`
	Recipient string `json:"recipient"`
}

type frameKind int

const (
	kindUnknown frameKind = iota
	kindKeepAlive
	kindRegister
	kindPeer
	kindJoin
	kindPubSub
)

func (h header) kind() frameKind {
	t := signaling.Type(h.Type)
	switch {
	case t == signaling.TypePing || t == signaling.TypePong:
		return kindKeepAlive
	case t == signaling.TypeRegister:
		return kindRegister
	case t.IsPeer():
		return kindPeer
	case pubsub.MessageType(h.Type) == pubsub.TypeJoin:
		return kindJoin
	case pubsub.MessageType(h.Type).Known():
		return kindPubSub
	}
	return kindUnknown
}

// Target names where a frame goes: every socket registered as User, or
// every socket joined to Channel.
type Target struct {
	User    string `json:"user,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// ClusterMessage carries a delivered frame to the other relay nodes.
type ClusterMessage struct {
	NodeName  string          `json:"node"`
	Target    Target          `json:"target"`
	Frame     json.RawMessage `json:"frame"`
	Timestamp int64           `json:"ts"`
}

type adminResult struct {
	Code string `json:"code"`
	Data string `json:"data"`
}
