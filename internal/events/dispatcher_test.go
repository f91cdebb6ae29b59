package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishPriorityOrder(t *testing.T) {
	d := NewDispatcher()
	var got []int
	d.SubscribeWithPriority("tick", func(any) { got = append(got, 1) }, 1)
	d.SubscribeWithPriority("tick", func(any) { got = append(got, 5) }, 5)
	d.SubscribeWithPriority("tick", func(any) { got = append(got, 3) }, 3)

	d.Publish("tick", nil)
	require.Equal(t, []int{5, 3, 1}, got)
}

func TestPublishStableForEqualPriority(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.Subscribe("tick", func(any) { got = append(got, "first") })
	d.Subscribe("tick", func(any) { got = append(got, "second") })
	d.Subscribe("tick", func(any) { got = append(got, "third") })

	d.Publish("tick", nil)
	require.Equal(t, []string{"first", "second", "third"}, got)
}

func TestPublishPayload(t *testing.T) {
	d := NewDispatcher()
	var got any
	d.Subscribe("msg", func(data any) { got = data })

	d.Publish("msg", "hello")
	assert.Equal(t, "hello", got)
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	d := NewDispatcher()
	var got []int
	d.SubscribeWithPriority("tick", func(any) { got = append(got, 5) }, 5)
	d.SubscribeWithPriority("tick", func(any) { panic("boom") }, 3)
	d.SubscribeWithPriority("tick", func(any) { got = append(got, 1) }, 1)

	require.NotPanics(t, func() { d.Publish("tick", nil) })
	assert.Equal(t, []int{5, 1}, got)
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var calls int
	sub := d.Subscribe("tick", func(any) { calls++ })
	other := d.Subscribe("tick", func(any) {})

	d.Unsubscribe(sub)
	d.Publish("tick", nil)
	assert.Zero(t, calls)

	// Removing twice is a no-op.
	d.Unsubscribe(sub)
	d.Unsubscribe(other)
	d.Publish("tick", nil)
	assert.Zero(t, calls)
}

func TestUnsubscribeAll(t *testing.T) {
	d := NewDispatcher()
	var calls int
	d.Subscribe("tick", func(any) { calls++ })
	d.Subscribe("tick", func(any) { calls++ })
	d.Subscribe("other", func(any) { calls++ })

	d.UnsubscribeAll("tick")
	d.Publish("tick", nil)
	assert.Zero(t, calls)

	d.Publish("other", nil)
	assert.Equal(t, 1, calls)
}
