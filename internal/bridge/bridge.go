package bridge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"bandlink/internal/transport"
)

// DefaultRequestTimeout bounds a request when ctx carries no deadline.
const DefaultRequestTimeout = 5 * time.Second

// Bridge is a transport.Link backed by a BLE central dongle.
type Bridge struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger

	requestTimeout time.Duration

	tsn       atomic.Uint32
	pending   map[uint8]chan Frame
	pendingMu sync.Mutex
	writeMu   sync.Mutex

	subs   map[uint8]*transport.Queue
	subsMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens the dongle's serial port.
func Open(portName string, baudRate int, logger *slog.Logger) (*Bridge, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", portName, err)
	}

	// USB CDC ACM: assert DTR/RTS so the dongle firmware starts talking.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	return New(port, logger.With("port", portName)), nil
}

// New runs the link protocol over rw and starts the read loop.
func New(rw io.ReadWriteCloser, logger *slog.Logger) *Bridge {
	b := &Bridge{
		rw:             rw,
		reader:         bufio.NewReader(rw),
		logger:         logger.With("component", "bridge"),
		requestTimeout: DefaultRequestTimeout,
		pending:        make(map[uint8]chan Frame),
		subs:           make(map[uint8]*transport.Queue),
		done:           make(chan struct{}),
	}
	b.wg.Add(1)
	go b.readLoop()
	return b
}

func (b *Bridge) nextTSN() uint8 {
	return uint8(b.tsn.Add(1))
}

func (b *Bridge) readLoop() {
	defer b.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		select {
		case <-b.done:
			return
		default:
		}

		raw, err := readRawFrame(b.reader)
		if err != nil {
			select {
			case <-b.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				b.logger.Error("read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-b.done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 10 * time.Millisecond

		f, err := DecodeFrame(raw)
		if err != nil {
			b.logger.Warn("decode error", "err", err)
			continue
		}
		b.dispatch(f)
	}
}

func (b *Bridge) dispatch(f Frame) {
	switch f.Type {
	case TypeResponse:
		b.pendingMu.Lock()
		ch, ok := b.pending[f.TSN]
		b.pendingMu.Unlock()
		if !ok {
			b.logger.Warn("orphaned response", "tsn", f.TSN)
			return
		}
		select {
		case ch <- f:
		default:
		}
	case TypeNotification:
		b.subsMu.Lock()
		q, ok := b.subs[f.Endpoint]
		b.subsMu.Unlock()
		if !ok {
			b.logger.Debug("notification without subscriber", "endpoint", f.Endpoint)
			return
		}
		q.Push(f.Payload)
	default:
		b.logger.Warn("unexpected frame", "type", typeName(f.Type), "tsn", f.TSN)
	}
}

// request sends one request frame and waits for its response. The returned
// slice is the response data after the status byte.
func (b *Bridge) request(ctx context.Context, typ, endpoint uint8, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.requestTimeout)
		defer cancel()
	}

	tsn := b.nextTSN()
	raw, err := EncodeFrame(Frame{Type: typ, Endpoint: endpoint, TSN: tsn, Payload: payload})
	if err != nil {
		return nil, err
	}

	ch := make(chan Frame, 1)
	b.pendingMu.Lock()
	b.pending[tsn] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, tsn)
		b.pendingMu.Unlock()
	}()

	b.writeMu.Lock()
	_, err = b.rw.Write(raw)
	b.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("bridge %s: serial write: %w", typeName(typ), err)
	}
	b.logger.Debug("TX", "type", typeName(typ), "endpoint", endpoint, "tsn", tsn, "len", len(payload))

	select {
	case resp := <-ch:
		return responseData(typ, resp)
	case <-ctx.Done():
		return nil, fmt.Errorf("bridge %s tsn=%d: %w", typeName(typ), tsn, ctx.Err())
	case <-b.done:
		return nil, transport.ErrClosed
	}
}

func responseData(typ uint8, resp Frame) ([]byte, error) {
	if len(resp.Payload) == 0 {
		return nil, fmt.Errorf("bridge %s: empty response", typeName(typ))
	}
	switch status := resp.Payload[0]; status {
	case StatusOK:
		return resp.Payload[1:], nil
	case StatusNotFound:
		return nil, fmt.Errorf("bridge %s: %w", typeName(typ), transport.ErrNotFound)
	default:
		return nil, fmt.Errorf("bridge %s: status 0x%02X", typeName(typ), status)
	}
}

func handle(ep transport.Endpoint) (uint8, error) {
	if ep.Handle > 0xFF {
		return 0, fmt.Errorf("endpoint %s: handle out of range", ep)
	}
	return uint8(ep.Handle), nil
}

// Resolve asks the dongle for the handle of characteristic within service.
func (b *Bridge) Resolve(ctx context.Context, service, characteristic string) (transport.Endpoint, error) {
	var payload bytes.Buffer
	payload.WriteString(service)
	payload.WriteByte(0)
	payload.WriteString(characteristic)

	data, err := b.request(ctx, TypeResolve, 0, payload.Bytes())
	if err != nil {
		return transport.Endpoint{}, fmt.Errorf("resolve %s/%s: %w", service, characteristic, err)
	}
	if len(data) < 1 {
		return transport.Endpoint{}, fmt.Errorf("resolve %s/%s: response without handle", service, characteristic)
	}
	return transport.Endpoint{UUID: characteristic, Handle: uint16(data[0])}, nil
}

func (b *Bridge) Write(ctx context.Context, ep transport.Endpoint, data []byte, confirm bool) error {
	h, err := handle(ep)
	if err != nil {
		return err
	}
	typ := uint8(TypeWriteCommand)
	if confirm {
		typ = TypeWriteRequest
	}
	_, err = b.request(ctx, typ, h, data)
	return err
}

func (b *Bridge) Read(ctx context.Context, ep transport.Endpoint) ([]byte, error) {
	h, err := handle(ep)
	if err != nil {
		return nil, err
	}
	return b.request(ctx, TypeRead, h, nil)
}

// Subscribe enables notifications for ep. Closing the subscription sends an
// unsubscribe request.
func (b *Bridge) Subscribe(ctx context.Context, ep transport.Endpoint) (transport.Subscription, error) {
	h, err := handle(ep)
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	if _, busy := b.subs[h]; busy {
		b.subsMu.Unlock()
		return nil, fmt.Errorf("endpoint %s already subscribed", ep)
	}
	q := transport.NewQueue(func() error {
		b.subsMu.Lock()
		delete(b.subs, h)
		b.subsMu.Unlock()
		select {
		case <-b.done:
			return nil
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.requestTimeout)
		defer cancel()
		_, err := b.request(ctx, TypeUnsubscribe, h, nil)
		return err
	})
	b.subs[h] = q
	b.subsMu.Unlock()

	if _, err := b.request(ctx, TypeSubscribe, h, nil); err != nil {
		b.subsMu.Lock()
		delete(b.subs, h)
		b.subsMu.Unlock()
		return nil, err
	}
	return q, nil
}

// Close stops the read loop and closes the port. Open subscriptions and
// pending requests return transport.ErrClosed.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.rw.Close()
		b.wg.Wait()

		b.subsMu.Lock()
		subs := make([]*transport.Queue, 0, len(b.subs))
		for _, q := range b.subs {
			subs = append(subs, q)
		}
		b.subsMu.Unlock()
		for _, q := range subs {
			_ = q.Close()
		}
	})
	return err
}

var _ transport.Link = (*Bridge)(nil)

