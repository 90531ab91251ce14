package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus[int]("test", zap.NewNop().Sugar())

	var got []string
	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Publish(1)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, b.Len())
}

func TestBusPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := NewBus[string]("test", zap.NewNop().Sugar())

	var got []string
	b.Subscribe(func(v string) { panic("boom") })
	b.Subscribe(func(v string) { got = append(got, v) })

	assert.NotPanics(t, func() { b.Publish("hello") })
	assert.Equal(t, []string{"hello"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus[int]("test", zap.NewNop().Sugar())

	calls := 0
	sub := b.Subscribe(func(int) { calls++ })
	b.Publish(1)
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Len())
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	b := NewBus[int]("test", zap.NewNop().Sugar())

	var second int
	var sub *Subscription
	b.Subscribe(func(int) { sub.Unsubscribe() })
	sub = b.Subscribe(func(int) { second++ })

	// the snapshot taken before the first handler ran still includes the second
	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, second)
}

func TestSubscribeReplay(t *testing.T) {
	b := NewBus[bool]("status", zap.NewNop().Sugar())

	var got []bool
	b.SubscribeReplay(func(v bool) { got = append(got, v) }, func() bool { return false })
	assert.Equal(t, []bool{false}, got)

	b.Publish(true)
	assert.Equal(t, []bool{false, true}, got)
}

func TestSubscribeReplaySeesChangeDuringRegistration(t *testing.T) {
	b := NewBus[int]("status", zap.NewNop().Sugar())

	state := 1
	var got []int
	b.SubscribeReplay(func(v int) { got = append(got, v) }, func() int {
		// another goroutine flips the state while the new handler is being added
		state = 2
		b.Publish(state)
		return state
	})

	assert.Equal(t, []int{2, 2}, got)
	assert.Equal(t, 2, got[len(got)-1])
}

func TestNilSubscriptionUnsubscribe(t *testing.T) {
	var s *Subscription
	assert.NotPanics(t, s.Unsubscribe)
}
