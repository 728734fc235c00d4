package event

import (
	"log/slog"
	"sync"
)

type HandlerFunc func(raw any)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	wg       sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]HandlerFunc),
	}
}

func (b *Bus) Subscribe(eventName string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish hands evt to every subscriber of eventName, each on its own
// goroutine. A nil Bus drops the event.
func (b *Bus) Publish(eventName string, evt any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]HandlerFunc, len(b.handlers[eventName]))
	copy(handlers, b.handlers[eventName])
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.wg.Add(1)
		go func(h HandlerFunc) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Event handler panicked", "event", eventName, "panic", r)
				}
			}()
			h(evt)
		}(handler)
	}
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.wg.Wait()
}
