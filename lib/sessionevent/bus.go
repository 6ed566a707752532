// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionevent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/schema"
)

// Kind is the way a session ended.
type Kind string

const (
	Closed  Kind = "closed"
	Expired Kind = "expired"
	Failed  Kind = "failed"
)

// KindFor maps a terminal session state to the event kind. The second
// result is false for open sessions.
func KindFor(state schema.SessionState) (Kind, bool) {
	switch state {
	case schema.SessionClosed:
		return Closed, true
	case schema.SessionExpired:
		return Expired, true
	case schema.SessionFailed:
		return Failed, true
	default:
		return "", false
	}
}

// Event announces that a session has ended.
type Event struct {
	Kind        Kind
	SessionGUID string

	// Reason is the failure reason for Failed events.
	Reason string

	At time.Time
}

// Handler receives events. Handlers run on the publisher's goroutine
// and must not call Publish on the same bus.
type Handler func(Event)

// Bus fans session events out to subscribers.
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	nextID      uint64
	subscribers []subscriber
}

type subscriber struct {
	id      uint64
	name    string
	handler Handler
}

// NewBus returns an empty bus. A nil logger discards.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler under name (used only in logs) and
// returns a function that removes it. The returned function is
// idempotent.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{id: id, name: name, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, candidate := range b.subscribers {
				if candidate.id == id {
					b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers event to every current subscriber in subscription
// order. A handler that panics is logged and does not stop delivery to
// the rest.
func (b *Bus) Publish(event Event) {
	// Snapshot under lock, dispatch after release, so handlers may
	// subscribe or unsubscribe.
	b.mu.Lock()
	subscribers := append([]subscriber(nil), b.subscribers...)
	b.mu.Unlock()

	b.logger.Debug("session event",
		"session", event.SessionGUID,
		"kind", string(event.Kind),
		"subscribers", len(subscribers),
	)
	for _, subscriber := range subscribers {
		b.deliver(subscriber, event)
	}
}

func (b *Bus) deliver(subscriber subscriber, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("session event handler panicked",
				"subscriber", subscriber.name,
				"session", event.SessionGUID,
				"kind", string(event.Kind),
				"panic", recovered,
			)
		}
	}()
	subscriber.handler(event)
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
