// Package events carries pipeline progress notifications to decoupled
// consumers such as the CLI's progress logging.
package events

import (
	"sync"
	"time"
)

// EventType identifies a pipeline lifecycle event.
type EventType string

const (
	// EventRunStarted is published once dispatch begins.
	EventRunStarted EventType = "run_started"
	// EventCheckStarted is published when a check acquires a slot.
	EventCheckStarted EventType = "check_started"
	// EventCheckFinished is published with the check's terminal status.
	EventCheckFinished EventType = "check_finished"
	// EventScanFinished is published when the pattern scan completes.
	EventScanFinished EventType = "scan_finished"
	// EventRunDecided is published with the final verdict.
	EventRunDecided EventType = "run_decided"
)

// Event is one pipeline notification.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber receives events asynchronously.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe hub. Delivery is asynchronous
// through buffered channels; a subscriber that falls behind loses events
// rather than stalling the pipeline.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns the matching
// unsubscribe function. Panics inside fn are contained.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish delivers the event to every subscriber of the type without
// blocking. A full subscriber channel drops the event for that subscriber.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts every subscriber channel and clears all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
