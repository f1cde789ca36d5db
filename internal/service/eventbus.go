package service

import (
	"sync"
	"time"
)

const (
	EventEnqueued  = "enqueued"
	EventClaimed   = "claimed"
	EventCompleted = "completed"
	EventRetry     = "retry"
	EventFailed    = "failed"
	EventReset     = "reset"
)

type Event struct {
	JobID    int64     `json:"job_id"`
	EntityID int64     `json:"entity_id"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

type EventPublisher interface {
	Publish(event Event)
}

// AllEntities subscribes to events of every entity.
const AllEntities int64 = 0

type EventBus struct {
	subscribers map[int64][]chan Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[int64][]chan Event),
	}
}

func (eb *EventBus) Subscribe(entityID int64) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16)
	eb.subscribers[entityID] = append(eb.subscribers[entityID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(entityID int64, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[entityID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[entityID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[entityID]) == 0 {
		delete(eb.subscribers, entityID)
	}
}

func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	eb.send(eb.subscribers[event.EntityID], event)
	if event.EntityID != AllEntities {
		eb.send(eb.subscribers[AllEntities], event)
	}
}

func (eb *EventBus) send(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
}
