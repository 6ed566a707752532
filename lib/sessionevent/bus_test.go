// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionevent

import (
	"reflect"
	"testing"

	"github.com/bureau-foundation/renderfarm/lib/schema"
)

func TestPublishOrderAndUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var calls []string

	unsubscribeFirst := bus.Subscribe("first", func(event Event) {
		calls = append(calls, "first:"+event.SessionGUID)
	})
	bus.Subscribe("second", func(event Event) {
		calls = append(calls, "second:"+event.SessionGUID)
	})

	bus.Publish(Event{Kind: Closed, SessionGUID: "s-1"})
	unsubscribeFirst()
	unsubscribeFirst()
	bus.Publish(Event{Kind: Expired, SessionGUID: "s-2"})

	want := []string{"first:s-1", "second:s-1", "second:s-2"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if bus.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", bus.Subscribers())
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	delivered := false
	bus.Subscribe("broken", func(Event) { panic("boom") })
	bus.Subscribe("healthy", func(Event) { delivered = true })

	bus.Publish(Event{Kind: Failed, SessionGUID: "s-1", Reason: "worker lost"})
	if !delivered {
		t.Error("handler after a panicking handler was not called")
	}
}

func TestHandlerMayUnsubscribeItself(t *testing.T) {
	bus := NewBus(nil)
	count := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe("once", func(Event) {
		count++
		unsubscribe()
	})
	bus.Publish(Event{Kind: Closed, SessionGUID: "s-1"})
	bus.Publish(Event{Kind: Closed, SessionGUID: "s-2"})
	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
}

func TestKindFor(t *testing.T) {
	tests := map[schema.SessionState]Kind{
		schema.SessionClosed:  Closed,
		schema.SessionExpired: Expired,
		schema.SessionFailed:  Failed,
	}
	for state, want := range tests {
		got, ok := KindFor(state)
		if !ok || got != want {
			t.Errorf("KindFor(%s) = %q, %v", state, got, ok)
		}
	}
	if _, ok := KindFor(schema.SessionOpen); ok {
		t.Error("KindFor(open) reported a terminal kind")
	}
}
