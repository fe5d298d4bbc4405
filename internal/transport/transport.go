// Package transport defines the channel contract the DFU and sync sessions run over.
// Backends: BLE via tinygo bluetooth (internal/ble), serial bridge dongle (internal/bridge).
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Resolver when a service or characteristic does not exist.
	ErrNotFound = errors.New("endpoint not found")

	// ErrClosed is returned when reading from a closed subscription or transport.
	ErrClosed = errors.New("transport closed")
)

// Endpoint is an opaque handle to a resolved characteristic.
// Handle is assigned by the transport that resolved it; UUID is kept for logging.
type Endpoint struct {
	UUID   string
	Handle uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s#%d", e.UUID, e.Handle)
}

// Transport is the byte channel exposing addressable endpoints.
type Transport interface {
	// Write sends data to ep. When confirm is true the call returns only after
	// the remote acknowledged the write.
	Write(ctx context.Context, ep Endpoint, data []byte, confirm bool) error

	// Read performs a synchronous read of the endpoint value.
	Read(ctx context.Context, ep Endpoint) ([]byte, error)

	// Subscribe starts delivery of inbound buffers for ep. Buffers arrive in order.
	Subscribe(ctx context.Context, ep Endpoint) (Subscription, error)
}

// Subscription is a pull-based ordered stream of inbound buffers.
type Subscription interface {
	// Next blocks until a buffer arrives, the subscription is closed
	// (ErrClosed) or ctx is done (ctx.Err()).
	Next(ctx context.Context) ([]byte, error)

	// Close stops delivery. Safe to call more than once.
	Close() error
}

// Resolver turns service/characteristic UUID strings (16-bit "DEED" or
// 128-bit form) into endpoint handles.
type Resolver interface {
	Resolve(ctx context.Context, service, characteristic string) (Endpoint, error)
}

// Link is a connected device: a Transport that can also resolve endpoints.
type Link interface {
	Transport
	Resolver
	Close() error
}
