package signaling

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/event"
	"github.com/nzlov/carewire/internal/transport"
)

// Events carry the sender id next to the unchanged payload.
type (
	OfferEvent struct {
		UserID string
		OfferPayload
	}
	AnswerEvent struct {
		UserID string
		AnswerPayload
	}
	ICECandidateEvent struct {
		UserID string
		ICECandidatePayload
	}
	HangupEvent struct {
		UserID string
		ReasonPayload
	}
	RejectEvent struct {
		UserID string
		ReasonPayload
	}
	ReconnectEvent struct {
		UserID string
		ReasonPayload
	}
)

// Client is the signaling side of one transport connection.
type Client struct {
	conn *transport.Connection
	log  *zap.SugaredLogger

	offers     *event.Bus[OfferEvent]
	answers    *event.Bus[AnswerEvent]
	candidates *event.Bus[ICECandidateEvent]
	hangups    *event.Bus[HangupEvent]
	rejects    *event.Bus[RejectEvent]
	reconnects *event.Bus[ReconnectEvent]

	sub *event.Subscription
}

// New builds the transport from opts with the register greeting installed.
func New(opts transport.Options) *Client {
	if opts.Name == "" {
		opts.Name = "signaling"
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}
	opts.Greeting = func(id transport.Identity) ([]byte, error) {
		return RegisterFrame(id.UserID)
	}
	log := opts.Logger.With("component", opts.Name)

	c := &Client{
		conn:       transport.New(opts),
		log:        log,
		offers:     event.NewBus[OfferEvent]("offer", log),
		answers:    event.NewBus[AnswerEvent]("answer", log),
		candidates: event.NewBus[ICECandidateEvent]("ice_candidate", log),
		hangups:    event.NewBus[HangupEvent]("hangup", log),
		rejects:    event.NewBus[RejectEvent]("reject", log),
		reconnects: event.NewBus[ReconnectEvent]("reconnect", log),
	}
	c.sub = c.conn.OnMessage(c.handle)
	return c
}

func (c *Client) Connect(ctx context.Context, id transport.Identity) error {
	return c.conn.Connect(ctx, id)
}

func (c *Client) Disconnect() {
	c.conn.Disconnect()
	c.sub.Unsubscribe()
}

func (c *Client) Status() transport.Status {
	return c.conn.Status()
}

func (c *Client) OnStatus(fn func(transport.Status)) *event.Subscription {
	return c.conn.OnStatus(fn)
}

func (c *Client) OnError(fn func(error)) *event.Subscription {
	return c.conn.OnError(fn)
}

func (c *Client) SendOffer(to string, p OfferPayload) bool {
	return c.send(TypeOffer, to, p)
}

func (c *Client) SendAnswer(to string, p AnswerPayload) bool {
	return c.send(TypeAnswer, to, p)
}

func (c *Client) SendICECandidate(to string, p ICECandidatePayload) bool {
	return c.send(TypeICECandidate, to, p)
}

func (c *Client) SendHangup(to, reason string) bool {
	return c.send(TypeHangup, to, ReasonPayload{Reason: reason})
}

func (c *Client) SendReject(to, reason string) bool {
	return c.send(TypeReject, to, ReasonPayload{Reason: reason})
}

func (c *Client) SendReconnect(to, reason string) bool {
	return c.send(TypeReconnect, to, ReasonPayload{Reason: reason})
}

func (c *Client) OnOffer(fn func(OfferEvent)) *event.Subscription {
	return c.offers.Subscribe(fn)
}

func (c *Client) OnAnswer(fn func(AnswerEvent)) *event.Subscription {
	return c.answers.Subscribe(fn)
}

func (c *Client) OnICECandidate(fn func(ICECandidateEvent)) *event.Subscription {
	return c.candidates.Subscribe(fn)
}

func (c *Client) OnHangup(fn func(HangupEvent)) *event.Subscription {
	return c.hangups.Subscribe(fn)
}

func (c *Client) OnReject(fn func(RejectEvent)) *event.Subscription {
	return c.rejects.Subscribe(fn)
}

func (c *Client) OnReconnect(fn func(ReconnectEvent)) *event.Subscription {
	return c.reconnects.Subscribe(fn)
}

func (c *Client) send(t Type, to string, payload any) bool {
	frame, err := Encode(t, c.conn.Identity().UserID, to, payload)
	if err != nil {
		c.log.Errorw("encode envelope", "type", t, "to", to, "error", err)
		return false
	}
	return c.conn.Send(frame)
}

func (c *Client) handle(frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			c.log.Debugw("drop incomplete envelope", "frame", string(frame))
		} else {
			c.log.Warnw("drop malformed envelope", "error", err)
		}
		return
	}

	switch m := msg.(type) {
	case Offer:
		c.offers.Publish(OfferEvent{UserID: m.From, OfferPayload: m.OfferPayload})
	case Answer:
		c.answers.Publish(AnswerEvent{UserID: m.From, AnswerPayload: m.AnswerPayload})
	case ICECandidate:
		c.candidates.Publish(ICECandidateEvent{UserID: m.From, ICECandidatePayload: m.ICECandidatePayload})
	case Hangup:
		c.hangups.Publish(HangupEvent{UserID: m.From, ReasonPayload: m.ReasonPayload})
	case Reject:
		c.rejects.Publish(RejectEvent{UserID: m.From, ReasonPayload: m.ReasonPayload})
	case Reconnect:
		c.reconnects.Publish(ReconnectEvent{UserID: m.From, ReasonPayload: m.ReasonPayload})
	case Heartbeat:
	case Register:
		c.log.Debugw("ignore register echo", "user", m.UserID)
	case Unknown:
		c.log.Warnw("drop unknown envelope", "type", m.Kind)
	}
}
