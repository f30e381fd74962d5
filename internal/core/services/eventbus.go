package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeLog      EventType = "log"
	EventTypeThoughts EventType = "thoughts"
)

// Event is one message on the bus. Topic is usually an agent id; trace
// events use "trace:<id>".
type Event struct {
	Topic     string    `json:"topic"`
	Type      EventType `json:"type"`
	Data      string    `json:"data"` // JSON payload or raw text
	Timestamp int64     `json:"timestamp"`
}

// StatusEvent is the payload of a status event. It is built from the
// decision's status block and never carries the model's thoughts.
type StatusEvent struct {
	AgentID  domain.AgentID    `json:"agent_id"`
	Turn     int               `json:"turn"`
	Source   domain.TurnSource `json:"source"`
	Action   domain.ActionType `json:"action,omitempty"`
	Title    string            `json:"title,omitempty"`
	Details  string            `json:"details,omitempty"`
	NextHint string            `json:"next_hint,omitempty"`
	Progress int               `json:"progress,omitempty"`
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // Key: topic
	global []chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for one topic
func (b *EventBus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[topic] = append(b.subs[topic], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[topic]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[topic] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}

	return ch, unsub
}

// SubscribeGlobal returns a channel that receives every event
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 256)
	b.global = append(b.global, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.global {
			if sub == ch {
				close(ch)
				b.global = append(b.global[:i], b.global[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish sends an event to the topic's subscribers and to global ones
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.Topic] {
		b.send(ch, e)
	}
	for _, ch := range b.global {
		b.send(ch, e)
	}
}

func (b *EventBus) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		// If channel is full, drop event to prevent blocking application
		b.logger.Warn("event bus channel full, dropping event", "topic", e.Topic, "type", e.Type)
	}
}

// PublishStatus publishes a status event on the agent's topic.
func (b *EventBus) PublishStatus(s StatusEvent) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Warn("failed to encode status event", "agent_id", string(s.AgentID), "error", err)
		return
	}
	b.Publish(Event{
		Topic:     string(s.AgentID),
		Type:      EventTypeStatus,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishThoughts forwards a streamed thoughts fragment on the agent's
// topic. It matches ThoughtsHandler.
func (b *EventBus) PublishThoughts(agentID domain.AgentID, delta string) {
	if delta == "" {
		return
	}
	b.Publish(Event{
		Topic:     string(agentID),
		Type:      EventTypeThoughts,
		Data:      delta,
		Timestamp: time.Now().UnixMilli(),
	})
}
