package connection

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Handler receives one event. A returned error is treated like any other
// failure raised inside the client.
type Handler[T any] func(ctx context.Context, event T) error

// HandlerID identifies a registration on an EventBus.
type HandlerID uint64

type registration[T any] struct {
	id HandlerID
	fn Handler[T]
}

// EventBus is an ordered multicast list of handlers for one event kind.
//
// Handlers run sequentially in registration order on the invoking goroutine.
// Invoke stops at the first handler that fails.
type EventBus[T any] struct {
	name string

	mu       sync.RWMutex
	nextID   HandlerID
	handlers []registration[T]
}

// NewEventBus creates an empty bus. name prefixes handler errors.
func NewEventBus[T any](name string) *EventBus[T] {
	return &EventBus[T]{name: name}
}

// Register appends h and returns its id. A nil handler is ignored and
// yields the zero id.
func (b *EventBus[T]) Register(h Handler[T]) HandlerID {
	if h == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers = append(b.handlers, registration[T]{id: b.nextID, fn: h})
	return b.nextID
}

// Unregister removes the handler with the given id.
func (b *EventBus[T]) Unregister(id HandlerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.handlers {
		if r.id == id {
			b.handlers = slices.Delete(b.handlers, i, i+1)
			return true
		}
	}
	return false
}

// Len returns the number of registered handlers.
func (b *EventBus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Invoke delivers event to every handler. Handlers registered or removed
// during delivery take effect on the next Invoke.
func (b *EventBus[T]) Invoke(ctx context.Context, event T) error {
	b.mu.RLock()
	snapshot := slices.Clone(b.handlers)
	b.mu.RUnlock()

	for _, r := range snapshot {
		if err := callHandler(ctx, r.fn, event); err != nil {
			return fmt.Errorf("%s handler: %w", b.name, err)
		}
	}
	return nil
}

func callHandler[T any](ctx context.Context, fn Handler[T], event T) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return fn(ctx, event)
}
