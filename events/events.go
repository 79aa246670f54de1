// Package events implements the introspection bus the runtime publishes agent
// lifecycle events on. Handlers are for observation only; emitting never
// blocks or fails the publishing agent.
package events

import (
	"sync"
	"time"

	"github.com/smallnest/agentgraphgo/log"
)

// Type identifies a lifecycle event category.
type Type string

const (
	MessageReceived       Type = "message.received"
	LLMCallStarted        Type = "llm.call.started"
	LLMCallCompleted      Type = "llm.call.completed"
	ToolSelected          Type = "tool.selected"
	ToolExecutionComplete Type = "tool.execution.completed"
	ErrorOccurred         Type = "error.occurred"
)

// Event is a single lifecycle notification from an agent.
type Event struct {
	Type      Type
	AgentID   string
	AgentName string
	Timestamp time.Time
	Data      map[string]any
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine; keep them fast.
type Handler func(Event)

// Bus is a minimal publish-subscribe dispatcher. Subscriptions cannot be
// removed; a bus lives as long as the runtime that owns it.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
	logger   log.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		logger:   log.GetDefaultLogger(),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Emit publishes an event to all matching handlers. A panicking handler is
// recovered and logged so it cannot take down the agent turn that emitted.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[ev.Type])+len(b.all))
	handlers = append(handlers, b.handlers[ev.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked on %s: %v", ev.Type, r)
		}
	}()
	h(ev)
}
