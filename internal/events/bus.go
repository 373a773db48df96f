// Package events provides the callback event bus that fans backend events out
// to UI consumers.
package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

const subBufferSize = 8

// Callback receives a published event on the publisher's goroutine. Each
// subscriber gets its own copy of the payload.
type Callback func(models.Event)

type subscription struct {
	id   string
	kind models.EventKind
	cb   Callback
	ch   *chanSub
}

// chanSub guards a subscriber channel so that a publish racing an
// unsubscribe never sends on a closed channel.
type chanSub struct {
	mu     sync.Mutex
	ch     chan models.Event
	closed bool
}

func (c *chanSub) send(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- ev:
	default:
		// Drop if subscriber is slow
	}
}

func (c *chanSub) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Bus delivers every event to the wildcard subscribers first and then to the
// subscribers of the event's kind, each group in registration order.
type Bus struct {
	mu   sync.Mutex
	subs []subscription
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers cb for kind (models.EventAny for every kind) and
// returns the subscription id.
func (b *Bus) Subscribe(kind models.EventKind, cb Callback) string {
	id := uuid.New().String()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, kind: kind, cb: cb})
	b.mu.Unlock()
	return id
}

// SubscribeChan registers a buffered channel subscriber. Events are dropped
// when the buffer is full. Unsubscribe closes the channel.
func (b *Bus) SubscribeChan(kind models.EventKind, buffer int) (string, <-chan models.Event) {
	if buffer <= 0 {
		buffer = subBufferSize
	}
	cs := &chanSub{ch: make(chan models.Event, buffer)}
	id := uuid.New().String()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, kind: kind, cb: cs.send, ch: cs})
	b.mu.Unlock()
	return id, cs.ch
}

// Unsubscribe removes a subscription. It reports whether id was registered.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id != id {
			continue
		}
		b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
		if s.ch != nil {
			s.ch.close()
		}
		return true
	}
	return false
}

// Publish invokes the matching callbacks synchronously. The registry lock is
// released before any callback runs so callbacks may (un)subscribe.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == models.EventAny {
			targets = append(targets, s)
		}
	}
	for _, s := range b.subs {
		if s.kind == ev.Kind && s.kind != models.EventAny {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		invoke(s, ev.Clone())
	}
}

func invoke(s subscription, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("events: subscriber panicked", "id", s.id, "kind", ev.Kind, "panic", fmt.Sprint(r))
		}
	}()
	s.cb(ev)
}

// Close drops every subscription and closes channel subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		if s.ch != nil {
			s.ch.close()
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
