// Package events is the in-process pub/sub that carries transfer progress from
// the DFU and sync sessions to the store, metrics, MQTT and web consumers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	TransferStarted  = "transfer_started"
	TransferState    = "transfer_state"
	TransferProgress = "transfer_progress"
	TransferComplete = "transfer_complete"
	TransferFailed   = "transfer_failed"
	IntegrityResult  = "integrity_result"
	DeviceRemoved    = "device_removed"
)

// Transfer kinds.
const (
	KindDFU  = "dfu"
	KindSync = "sync"
)

// Event is one bus message. Data is one of the payload types below.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Started is the payload of TransferStarted.
type Started struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Device string `json:"device"`
	Total  int    `json:"total,omitempty"`
}

// StateChange is the payload of TransferState.
type StateChange struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// Progress is the payload of TransferProgress.
type Progress struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	Bytes      int           `json:"bytes"`
	Total      int           `json:"total,omitempty"`
	Packets    int           `json:"packets"`
	Percentage float64       `json:"percentage,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Finished is the payload of TransferComplete and TransferFailed.
type Finished struct {
	ID      string        `json:"id"`
	Kind    string        `json:"kind"`
	Device  string        `json:"device"`
	State   string        `json:"state"`
	Bytes   int           `json:"bytes"`
	Packets int           `json:"packets"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Error   string        `json:"error,omitempty"`
}

// Integrity is the payload of IntegrityResult.
type Integrity struct {
	ID       string `json:"id"`
	Verified bool   `json:"verified"`
	Digest   string `json:"digest"`
}

// Removed is the payload of DeviceRemoved, emitted when the last stored
// transfer of a device is deleted.
type Removed struct {
	Device string `json:"device"`
}

// Handler is a callback for events.
type Handler func(Event)

// Bus provides pub/sub for transfer events.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]Handler
	allHandlers map[uint64]Handler
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[string]map[uint64]Handler),
		allHandlers: make(map[uint64]Handler),
		logger:      logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe function.
func (b *Bus) On(eventType string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event type.
func (b *Bus) OnAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Emit delivers event synchronously. A panicking handler is recovered and
// does not stop delivery to the others.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.allHandlers))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.allHandlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
