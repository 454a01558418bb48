package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler processes a single event. Handlers must be idempotent and must not
// block; long work belongs in the handler's own goroutines.
type Handler func(Event)

// Bus distributes events to subscribed handlers. Every handler runs in its
// own goroutine per event, so a slow subscriber never delays the publisher
// or its peers. Handler panics are recovered and logged, never propagated.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *zap.Logger
}

// NewBus creates an event bus. A nil logger is replaced with a no-op one.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Emit stamps the event time and delivers it to every subscriber
// concurrently. Emit never blocks on handlers and never returns an error.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event", string(e.Type)),
						zap.Any("panic", r))
				}
			}()
			h(e)
		}(h)
	}
}
