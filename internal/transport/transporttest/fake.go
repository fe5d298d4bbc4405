// Package transporttest provides a scripted in-memory transport for session tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"bandlink/internal/transport"
)

// Write records one Write call.
type Write struct {
	Endpoint transport.Endpoint
	Data     []byte
	Confirm  bool
}

// Fake implements transport.Link. Inbound buffers for an endpoint are queued
// with Push before or during a session; OnWrite lets a test react to writes
// like a device would.
type Fake struct {
	mu         sync.Mutex
	writes     []Write
	queues     map[uint16]*transport.Queue
	values     map[uint16][]byte
	endpoints  map[string]transport.Endpoint
	writeErr   map[uint16]error
	subscribed map[uint16]int
	closedSubs map[uint16]int

	// OnWrite is called after every successful write, outside the lock.
	OnWrite func(w Write)
}

// New creates an empty fake transport.
func New() *Fake {
	return &Fake{
		queues:     make(map[uint16]*transport.Queue),
		values:     make(map[uint16][]byte),
		endpoints:  make(map[string]transport.Endpoint),
		writeErr:   make(map[uint16]error),
		subscribed: make(map[uint16]int),
		closedSubs: make(map[uint16]int),
	}
}

// AddEndpoint registers a resolvable endpoint.
func (f *Fake) AddEndpoint(service, characteristic string, handle uint16) transport.Endpoint {
	ep := transport.Endpoint{UUID: characteristic, Handle: handle}
	f.mu.Lock()
	f.endpoints[service+"/"+characteristic] = ep
	f.mu.Unlock()
	return ep
}

// Push queues an inbound buffer for ep.
func (f *Fake) Push(ep transport.Endpoint, buf []byte) {
	f.queue(ep).Push(buf)
}

// SetValue sets the value returned by Read for ep.
func (f *Fake) SetValue(ep transport.Endpoint, value []byte) {
	f.mu.Lock()
	f.values[ep.Handle] = append([]byte(nil), value...)
	f.mu.Unlock()
}

// FailWrites makes every subsequent write to ep return err.
func (f *Fake) FailWrites(ep transport.Endpoint, err error) {
	f.mu.Lock()
	f.writeErr[ep.Handle] = err
	f.mu.Unlock()
}

// Writes returns a copy of all recorded writes.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesTo returns the recorded writes for one endpoint.
func (f *Fake) WritesTo(ep transport.Endpoint) []Write {
	var out []Write
	for _, w := range f.Writes() {
		if w.Endpoint.Handle == ep.Handle {
			out = append(out, w)
		}
	}
	return out
}

// Subscriptions returns how many times ep was subscribed and how many of
// those subscriptions were closed.
func (f *Fake) Subscriptions(ep transport.Endpoint) (opened, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[ep.Handle], f.closedSubs[ep.Handle]
}

func (f *Fake) queue(ep transport.Endpoint) *transport.Queue {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[ep.Handle]
	if !ok {
		q = transport.NewQueue(nil)
		f.queues[ep.Handle] = q
	}
	return q
}

func (f *Fake) Write(ctx context.Context, ep transport.Endpoint, data []byte, confirm bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if err := f.writeErr[ep.Handle]; err != nil {
		f.mu.Unlock()
		return err
	}
	w := Write{Endpoint: ep, Data: append([]byte(nil), data...), Confirm: confirm}
	f.writes = append(f.writes, w)
	hook := f.OnWrite
	f.mu.Unlock()

	if hook != nil {
		hook(w)
	}
	return nil
}

func (f *Fake) Read(ctx context.Context, ep transport.Endpoint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[ep.Handle]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", ep, transport.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

// Subscribe returns a view on the endpoint's queue. Buffers pushed before the
// subscription are delivered; closing the subscription does not discard them.
func (f *Fake) Subscribe(ctx context.Context, ep transport.Endpoint) (transport.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.subscribed[ep.Handle]++
	f.mu.Unlock()
	return &subscription{fake: f, ep: ep, q: f.queue(ep)}, nil
}

func (f *Fake) Resolve(ctx context.Context, service, characteristic string) (transport.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.endpoints[service+"/"+characteristic]
	if !ok {
		return transport.Endpoint{}, fmt.Errorf("%s/%s: %w", service, characteristic, transport.ErrNotFound)
	}
	return ep, nil
}

func (f *Fake) Close() error { return nil }

type subscription struct {
	fake *Fake
	ep   transport.Endpoint
	q    *transport.Queue

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (s *subscription) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}
	return s.q.Next(ctx)
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.fake.mu.Lock()
		s.fake.closedSubs[s.ep.Handle]++
		s.fake.mu.Unlock()
	})
	return nil
}
