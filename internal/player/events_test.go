package player

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_OnHandlersReceiveEvents(t *testing.T) {
	d := NewDispatcher()

	var got []Event
	d.On(EventStateChanged, func(e Event) { got = append(got, e) })
	d.On(EventProgress, func(e Event) { t.Error("handler for other type called") })

	d.Publish(Event{Type: EventStateChanged, Payload: "opening"})

	assert.Len(t, got, 1)
	assert.Equal(t, "opening", got[0].Payload)
}

func TestDispatcher_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	d := NewDispatcher()
	ch := d.Subscribe()
	defer d.Unsubscribe(ch)

	// Overfill the buffer; Publish must not block
	for i := 0; i < cap(ch)+10; i++ {
		d.Publish(Event{Type: EventProgress, Payload: i})
	}

	assert.Equal(t, cap(ch), len(ch))
}

func TestDispatcher_UnsubscribeDuringPublishDoesNotPanic(t *testing.T) {
	d := NewDispatcher()

	subs := make([]chan Event, 0, 200)
	for i := 0; i < 200; i++ {
		subs = append(subs, d.Subscribe())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			d.Publish(Event{Type: EventProgress, Payload: i})
		}
	}()
	go func() {
		defer wg.Done()
		for _, ch := range subs {
			d.Unsubscribe(ch)
		}
	}()
	wg.Wait()

	// Unsubscribed channels stay open so in-flight sends cannot panic
	d.Publish(Event{Type: EventPlayerClosed})
	for _, ch := range subs {
		select {
		case _, ok := <-ch:
			assert.True(t, ok, "subscriber channel must not be closed")
		default:
		}
	}
}

func TestDispatcher_UnsubscribeTwiceIsSafe(t *testing.T) {
	d := NewDispatcher()
	ch := d.Subscribe()
	d.Unsubscribe(ch)
	d.Unsubscribe(ch)
	d.Publish(Event{Type: EventProgress})
}
