// Package events provides the synchronous publish/subscribe mechanism
// every role uses to expose lifecycle and protocol events.
package events

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Type names one event stream on a Dispatcher.
type Type string

// HandlerFunc receives the payload published for a subscribed Type.
type HandlerFunc func(data any)

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	typ      Type
	priority int
	seq      uint64
	fn       HandlerFunc
}

// Dispatcher fans events out to handlers in descending priority order,
// stable for equal priorities. Dispatch is synchronous on the calling
// goroutine; there is no queue and no backpressure.
type Dispatcher struct {
	mu       sync.RWMutex
	seq      uint64
	handlers map[Type][]*Subscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Type][]*Subscription)}
}

// Subscribe registers fn at priority 0.
func (d *Dispatcher) Subscribe(typ Type, fn HandlerFunc) *Subscription {
	return d.SubscribeWithPriority(typ, fn, 0)
}

// SubscribeWithPriority registers fn; higher priorities run first.
func (d *Dispatcher) SubscribeWithPriority(typ Type, fn HandlerFunc, priority int) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	sub := &Subscription{typ: typ, priority: priority, seq: d.seq, fn: fn}
	hs := append(d.handlers[typ], sub)
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].priority > hs[j].priority })
	d.handlers[typ] = hs
	return sub
}

// Unsubscribe removes one previously returned subscription. Unknown or
// already removed subscriptions are ignored.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	hs := d.handlers[sub.typ]
	for i, s := range hs {
		if s == sub {
			d.handlers[sub.typ] = append(hs[:i], hs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every handler for typ.
func (d *Dispatcher) UnsubscribeAll(typ Type) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, typ)
}

// Publish invokes every handler for typ, in priority order, on the
// calling goroutine. A panicking handler is recovered and logged; the
// remaining handlers still run and the publisher never sees the failure.
func (d *Dispatcher) Publish(typ Type, data any) {
	d.mu.RLock()
	hs := make([]*Subscription, len(d.handlers[typ]))
	copy(hs, d.handlers[typ])
	d.mu.RUnlock()

	for _, sub := range hs {
		d.invoke(typ, sub, data)
	}
}

func (d *Dispatcher) invoke(typ Type, sub *Subscription, data any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "events").Str("type", string(typ)).Any("panic", r).Msg("handler panicked")
		}
	}()
	sub.fn(data)
}
