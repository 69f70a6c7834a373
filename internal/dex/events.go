package dex

import (
	"sync"

	"github.com/google/uuid"
)

// Event type names used for subscriptions.
const (
	EventTypePurchase    = "token_purchase"
	EventTypeSell        = "token_sell"
	EventTypeTransfer    = "transfer"
	EventTypeReinvest    = "reinvestment"
	EventTypeWithdraw    = "withdraw"
	EventTypeExit        = "exit"
	EventTypePhaseEnded  = "phase_ended"
	EventTypeAdminChange = "admin_change"
	EventTypeAll         = "*"
)

// EventEmitter fans committed market events out to subscribers. Emission
// never blocks; slow subscribers lose events.
type EventEmitter struct {
	listeners map[string][]chan interface{}
	events    chan interface{}
	dropped   uint64
	mu        sync.RWMutex
}

// NewEventEmitter creates a new event emitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		listeners: make(map[string][]chan interface{}),
		events:    make(chan interface{}, 1000),
	}
}

// Emit emits an event
func (e *EventEmitter) Emit(event interface{}) {
	select {
	case e.events <- event:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}

	e.notifyListeners(event)
}

// Events returns the shared events channel
func (e *EventEmitter) Events() <-chan interface{} {
	return e.events
}

// Dropped returns how many events the shared channel has discarded.
func (e *EventEmitter) Dropped() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dropped
}

// Subscribe subscribes to events of a specific type, or every type with EventTypeAll.
func (e *EventEmitter) Subscribe(eventType string) <-chan interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan interface{}, 100)
	e.listeners[eventType] = append(e.listeners[eventType], ch)

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (e *EventEmitter) Unsubscribe(eventType string, ch <-chan interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listeners := e.listeners[eventType]
	for i, listener := range listeners {
		if listener == ch {
			e.listeners[eventType] = append(listeners[:i], listeners[i+1:]...)
			close(listener)
			break
		}
	}
}

func (e *EventEmitter) notifyListeners(event interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, key := range []string{EventType(event), EventTypeAll} {
		for _, listener := range e.listeners[key] {
			select {
			case listener <- event:
			default:
				// Listener channel full, skip
			}
		}
	}
}

// EventType returns the subscription name of an event.
func EventType(event interface{}) string {
	switch event.(type) {
	case EventTokenPurchase:
		return EventTypePurchase
	case EventTokenSell:
		return EventTypeSell
	case EventTransfer:
		return EventTypeTransfer
	case EventReinvestment:
		return EventTypeReinvest
	case EventWithdraw:
		return EventTypeWithdraw
	case EventExit:
		return EventTypeExit
	case EventPhaseEnded:
		return EventTypePhaseEnded
	case EventAdminChange:
		return EventTypeAdminChange
	default:
		return "unknown"
	}
}

func newEventID() string {
	return uuid.NewString()
}
