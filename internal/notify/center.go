package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/event"
	"github.com/nzlov/carewire/internal/prefs"
	"github.com/nzlov/carewire/internal/pubsub"
)

type Options struct {
	Alert  AlertSink
	Sound  SoundPlayer
	Prefs  prefs.Store
	Clock  clock.Clock
	Logger *zap.SugaredLogger
	// History caps the notifications kept for List, newest first. Zero
	// keeps every notification.
	History int
}

// Center runs every dispatched notification through three independent
// side channels: the alert sink, the in-app handlers and the sound player.
// A failure in one is logged and does not stop the others.
type Center struct {
	alert    AlertSink
	sound    SoundPlayer
	prefs    prefs.Store
	clock    clock.Clock
	log      *zap.SugaredLogger
	handlers *event.Bus[Notification]
	history  int

	mu      sync.Mutex
	granted bool
	items   []Notification
}

func NewCenter(opts Options) *Center {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewStore(prefs.NewMemoryKV())
	}
	log := opts.Logger.With("component", "notify")
	return &Center{
		alert:    opts.Alert,
		sound:    opts.Sound,
		prefs:    opts.Prefs,
		clock:    opts.Clock,
		log:      log,
		handlers: event.NewBus[Notification]("notification", log),
		history:  opts.History,
	}
}

// RequestPermission asks the alert sink for access and remembers the answer.
func (c *Center) RequestPermission(ctx context.Context) bool {
	if c.alert == nil {
		return false
	}
	granted, err := c.alert.RequestPermission(ctx)
	if err != nil {
		c.log.Warnw("request permission", "error", err)
		granted = false
	}
	c.mu.Lock()
	c.granted = granted
	c.mu.Unlock()
	c.log.Infow("notification permission", "granted", granted)
	return granted
}

func (c *Center) AddHandler(fn func(Notification)) *event.Subscription {
	return c.handlers.Subscribe(fn)
}

// Dispatch records n and hands it to every side channel. Missing id and
// timestamp are filled in.
func (c *Center) Dispatch(ctx context.Context, n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = c.clock.Now()
	}

	c.mu.Lock()
	c.items = append([]Notification{n}, c.items...)
	if c.history > 0 && len(c.items) > c.history {
		c.items = c.items[:c.history]
	}
	granted := c.granted
	c.mu.Unlock()

	log := c.log.With("id", n.ID, "kind", n.Kind)

	if granted && c.alert != nil {
		c.guard(log, "alert", func() error { return c.alert.Show(ctx, n) })
	}

	c.handlers.Publish(n)

	if c.sound != nil {
		c.guard(log, "sound", func() error {
			on, err := c.prefs.SoundEnabled(ctx)
			if err != nil {
				return fmt.Errorf("read sound preference: %w", err)
			}
			if !on {
				return nil
			}
			return c.sound.Play(ctx, n.Kind)
		})
	}
	return n
}

func (c *Center) guard(log *zap.SugaredLogger, channel string, fn func() error) {
	defer func() {
		if err := recover(); err != nil {
			log.Errorw("side channel panic", "channel", channel, "error", err)
		}
	}()
	if err := fn(); err != nil {
		log.Warnw("side channel failed", "channel", channel, "error", err)
	}
}

func (c *Center) MarkRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Read = true
			return true
		}
	}
	return false
}

func (c *Center) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		c.items[i].Read = true
	}
}

// List returns the kept notifications, newest first.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// HandleMessage dispatches an inbound pub/sub notification message.
func (c *Center) HandleMessage(m pubsub.Message) {
	p, err := m.Payload()
	if err != nil {
		c.log.Warnw("drop notification message", "error", err)
		return
	}
	np, ok := p.(*pubsub.NotificationPayload)
	if !ok {
		c.log.Warnw("not a notification message", "type", m.Type)
		return
	}

	n := Notification{
		ID:    np.ID,
		Title: np.Title,
		Body:  np.Body,
		Kind:  Kind(np.Kind),
	}
	if n.Kind == "" {
		n.Kind = KindMessage
	}
	if m.Timestamp != 0 {
		n.Timestamp = m.Time()
	}
	if len(np.Data) > 0 {
		if err := json.Unmarshal(np.Data, &n.Data); err != nil {
			c.log.Debugw("notification data is not an object", "error", err)
		}
	}
	if m.Sender != "" {
		if n.Data == nil {
			n.Data = map[string]any{}
		}
		n.Data["sender"] = m.Sender
	}
	c.Dispatch(context.Background(), n)
}
