package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/event"
	"github.com/nzlov/carewire/internal/transport"
)

// Router delivers inbound messages to the handlers registered for their
// type and sends outbound messages while connected.
type Router struct {
	conn  *transport.Connection
	clock clock.Clock
	log   *zap.SugaredLogger

	mu       sync.Mutex
	handlers map[MessageType]*event.Bus[Message]

	connected   atomic.Bool
	connections *event.Bus[bool]
	subs        []*event.Subscription
}

// New builds the router's own transport from opts, with the join frame as
// its greeting.
func New(opts transport.Options) *Router {
	if opts.Name == "" {
		opts.Name = "pubsub"
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	clk := opts.Clock
	opts.Greeting = func(id transport.Identity) ([]byte, error) {
		return JoinFrame(id, clk.Now())
	}
	log := opts.Logger.With("component", opts.Name)

	r := &Router{
		conn:        transport.New(opts),
		clock:       clk,
		log:         log,
		handlers:    map[MessageType]*event.Bus[Message]{},
		connections: event.NewBus[bool]("connection", log),
	}
	r.subs = append(r.subs,
		r.conn.OnMessage(r.handle),
		r.conn.OnStatus(r.statusChanged),
	)
	return r
}

func (r *Router) Connect(ctx context.Context, id transport.Identity) error {
	return r.conn.Connect(ctx, id)
}

func (r *Router) Disconnect() {
	r.conn.Disconnect()
	for _, s := range r.subs {
		s.Unsubscribe()
	}
}

func (r *Router) Status() transport.Status {
	return r.conn.Status()
}

func (r *Router) OnError(fn func(error)) *event.Subscription {
	return r.conn.OnError(fn)
}

// AddMessageHandler registers fn for messages of type t. Any number of
// handlers may share a type.
func (r *Router) AddMessageHandler(t MessageType, fn func(Message)) *event.Subscription {
	r.mu.Lock()
	bus, ok := r.handlers[t]
	if !ok {
		bus = event.NewBus[Message](string(t), r.log)
		r.handlers[t] = bus
	}
	r.mu.Unlock()
	return bus.Subscribe(fn)
}

func (r *Router) RemoveMessageHandler(sub *event.Subscription) {
	sub.Unsubscribe()
}

// AddConnectionHandler calls fn with the current connected state right away
// and again on every change.
func (r *Router) AddConnectionHandler(fn func(bool)) *event.Subscription {
	return r.connections.SubscribeReplay(fn, r.connected.Load)
}

// SendMessage sends m if the socket is open. Nothing is queued here: a
// false return means the message was not sent and will not be replayed
// after a reconnect.
func (r *Router) SendMessage(m Message) bool {
	if !r.conn.Status().Connected() {
		r.log.Warnw("not connected, message not sent", "type", m.Type)
		return false
	}
	if m.Timestamp == 0 {
		m.Timestamp = r.clock.Now().UnixMilli()
	}
	if m.Sender == "" {
		m.Sender = r.conn.Identity().UserID
	}
	frame, err := json.Marshal(m)
	if err != nil {
		r.log.Errorw("marshal message", "type", m.Type, "error", err)
		return false
	}
	return r.conn.TrySend(frame)
}

// Publish wraps payload in a message from the connected user. An empty
// recipient leaves routing to the relay's per-type channel.
func (r *Router) Publish(t MessageType, payload any, recipient string) bool {
	m, err := NewMessage(t, payload, r.conn.Identity().UserID, recipient, r.clock.Now())
	if err != nil {
		r.log.Errorw("build message", "type", t, "error", err)
		return false
	}
	return r.SendMessage(m)
}

func (r *Router) statusChanged(s transport.Status) {
	c := s.Connected()
	if r.connected.CompareAndSwap(!c, c) {
		r.log.Infow("connection changed", "connected", c, "status", s)
		r.connections.Publish(c)
	}
}

func (r *Router) handle(frame []byte) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		r.log.Warnw("drop malformed message", "error", err)
		return
	}
	if !m.Type.Known() {
		if m.Type != "ping" && m.Type != "pong" && m.Type != TypeJoin {
			r.log.Warnw("drop unknown message", "type", m.Type)
		}
		return
	}
	if _, err := m.Payload(); err != nil {
		r.log.Warnw("drop invalid message", "type", m.Type, "error", err)
		return
	}

	r.mu.Lock()
	bus := r.handlers[m.Type]
	r.mu.Unlock()
	if bus == nil || bus.Len() == 0 {
		r.log.Debugw("no handler", "type", m.Type)
		return
	}
	bus.Publish(m)
}
