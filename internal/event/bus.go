// Package event is a small typed publish/subscribe bus. Handlers are
// isolated from each other: a panicking handler is logged and skipped.
package event

import (
	"sync"

	"go.uber.org/zap"
)

// Bus fans a value out to every subscribed handler, in subscription order.
type Bus[T any] struct {
	name string
	log  *zap.SugaredLogger

	mu   sync.RWMutex
	next uint64
	subs []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// NewBus creates a bus. name only shows up in logs.
func NewBus[T any](name string, log *zap.SugaredLogger) *Bus[T] {
	if log == nil {
		log = zap.S()
	}
	return &Bus[T]{
		name: name,
		log:  log.With("bus", name),
	}
}

// Subscribe registers fn and returns its subscription.
func (b *Bus[T]) Subscribe(fn func(T)) *Subscription {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, entry[T]{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{cancel: func() { b.remove(id) }}
}

// SubscribeReplay registers fn, then calls it with current() on the
// caller's goroutine. current is read after registration, so a change that
// lands in between is still published to fn.
func (b *Bus[T]) SubscribeReplay(fn func(T), current func() T) *Subscription {
	sub := b.Subscribe(fn)
	b.call(fn, current())
	return sub
}

// Publish delivers v to a snapshot of the current handlers.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	subs := make([]entry[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(s.fn, v)
	}
}

// Len returns the number of registered handlers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus[T]) call(fn func(T), v T) {
	defer func() {
		if err := recover(); err != nil {
			b.log.Errorw("handler panic", "error", err)
		}
	}()
	fn(v)
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
