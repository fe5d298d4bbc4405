// Package ble implements transport.Link over the host Bluetooth adapter using
// tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"bandlink/internal/transport"
)

// readBufferSize bounds a single characteristic read.
const readBufferSize = 512

// ErrConfirmUnsupported is returned for confirmed writes on platforms where
// the Bluetooth stack cannot issue a write request.
var ErrConfirmUnsupported = errors.New("write with response not supported on this platform")

// Link is a connected peripheral. Endpoints returned by Resolve carry
// link-local handles assigned in discovery order.
type Link struct {
	adapter *bluetooth.Adapter
	device  bluetooth.Device
	address string
	logger  *slog.Logger
	native  *nativeLink

	mu         sync.Mutex
	chars      map[uint16]bluetooth.DeviceCharacteristic
	resolved   map[string]transport.Endpoint
	services   map[string]bluetooth.DeviceService
	subs       map[uint16]*transport.Queue
	nextHandle uint16
}

// Connect enables the adapter, scans for a peripheral advertising name and
// connects to it. Cancelling ctx stops the scan.
func Connect(ctx context.Context, adapter *bluetooth.Adapter, name string, logger *slog.Logger) (*Link, error) {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	logger = logger.With("component", "ble")

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)
	logger.Info("scanning", "name", name)
	go func() {
		scanDone <- adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.LocalName() != name {
				return
			}
			select {
			case found <- result:
				if err := a.StopScan(); err != nil {
					logger.Warn("stop scan", "err", err)
				}
			default:
			}
		})
	}()

	var result bluetooth.ScanResult
	select {
	case result = <-found:
		<-scanDone
	case err := <-scanDone:
		if err == nil {
			err = errors.New("scan ended")
		}
		return nil, fmt.Errorf("scan for %q: %w", name, err)
	case <-ctx.Done():
		if err := adapter.StopScan(); err != nil {
			logger.Warn("stop scan", "err", err)
		}
		return nil, fmt.Errorf("scan for %q: %w", name, ctx.Err())
	}

	logger.Info("connecting", "address", result.Address.String(), "rssi", result.RSSI)
	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", result.Address.String(), err)
	}

	return &Link{
		adapter:    adapter,
		device:     device,
		address:    result.Address.String(),
		logger:     logger,
		native:     newNativeLink(),
		chars:      make(map[uint16]bluetooth.DeviceCharacteristic),
		resolved:   make(map[string]transport.Endpoint),
		services:   make(map[string]bluetooth.DeviceService),
		subs:       make(map[uint16]*transport.Queue),
		nextHandle: 1,
	}, nil
}

// Resolve discovers characteristic within service. Both may be 16-bit
// ("FEED") or 128-bit UUID strings.
func (l *Link) Resolve(ctx context.Context, service, characteristic string) (transport.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return transport.Endpoint{}, err
	}
	key := strings.ToUpper(service) + "/" + strings.ToUpper(characteristic)

	l.mu.Lock()
	defer l.mu.Unlock()
	if ep, ok := l.resolved[key]; ok {
		return ep, nil
	}

	svc, err := l.service(service)
	if err != nil {
		return transport.Endpoint{}, err
	}
	svcUUID, err := parseUUID(service)
	if err != nil {
		return transport.Endpoint{}, err
	}
	charUUID, err := parseUUID(characteristic)
	if err != nil {
		return transport.Endpoint{}, err
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		return transport.Endpoint{}, fmt.Errorf("characteristic %s in %s: %w", characteristic, service, transport.ErrNotFound)
	}

	ep := transport.Endpoint{UUID: strings.ToUpper(characteristic), Handle: l.nextHandle}
	l.nextHandle++
	l.chars[ep.Handle] = chars[0]
	l.native.remember(ep.Handle, svcUUID, charUUID)
	l.resolved[key] = ep
	l.logger.Debug("resolved", "service", service, "characteristic", characteristic, "handle", ep.Handle)
	return ep, nil
}

// service returns a discovered service. Called with mu held.
func (l *Link) service(uuid string) (bluetooth.DeviceService, error) {
	key := strings.ToUpper(uuid)
	if svc, ok := l.services[key]; ok {
		return svc, nil
	}
	svcUUID, err := parseUUID(uuid)
	if err != nil {
		return bluetooth.DeviceService{}, err
	}
	services, err := l.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return bluetooth.DeviceService{}, fmt.Errorf("service %s: %w", uuid, transport.ErrNotFound)
	}
	l.services[key] = services[0]
	return services[0], nil
}

func (l *Link) char(ep transport.Endpoint) (bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[ep.Handle]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("endpoint %s: %w", ep, transport.ErrNotFound)
	}
	return c, nil
}

// Write writes data with response when confirm is set, otherwise as a write
// command. Platforms without a write request return ErrConfirmUnsupported for
// confirmed writes.
func (l *Link) Write(ctx context.Context, ep transport.Endpoint, data []byte, confirm bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := l.char(ep)
	if err != nil {
		return err
	}
	if confirm {
		if err := l.writeRequest(ctx, ep, c, data); err != nil {
			return fmt.Errorf("write request %s: %w", ep, err)
		}
		return nil
	}
	_, err = c.WriteWithoutResponse(data)
	return err
}

// Read performs a characteristic read.
func (l *Link) Read(ctx context.Context, ep transport.Endpoint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := l.char(ep)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, readBufferSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Subscribe enables notifications on ep. Closing the subscription disables them.
func (l *Link) Subscribe(ctx context.Context, ep transport.Endpoint) (transport.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := l.char(ep)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if _, busy := l.subs[ep.Handle]; busy {
		l.mu.Unlock()
		return nil, fmt.Errorf("endpoint %s already subscribed", ep)
	}
	q := transport.NewQueue(func() error {
		l.mu.Lock()
		delete(l.subs, ep.Handle)
		l.mu.Unlock()
		return c.EnableNotifications(nil)
	})
	l.subs[ep.Handle] = q
	l.mu.Unlock()

	if err := c.EnableNotifications(func(buf []byte) { q.Push(buf) }); err != nil {
		l.mu.Lock()
		delete(l.subs, ep.Handle)
		l.mu.Unlock()
		return nil, fmt.Errorf("enable notifications %s: %w", ep, err)
	}
	return q, nil
}

// Close closes open subscriptions and disconnects.
func (l *Link) Close() error {
	l.mu.Lock()
	subs := make([]*transport.Queue, 0, len(l.subs))
	for _, q := range l.subs {
		subs = append(subs, q)
	}
	l.mu.Unlock()

	for _, q := range subs {
		if err := q.Close(); err != nil {
			l.logger.Debug("disable notifications", "err", err)
		}
	}
	return l.device.Disconnect()
}

// parseUUID accepts 16-bit ("FEED", "0xFEED") and 128-bit UUID strings.
func parseUUID(s string) (bluetooth.UUID, error) {
	short := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(short) == 4 {
		v, err := strconv.ParseUint(short, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("parse uuid %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("parse uuid %q: %w", s, err)
	}
	return u, nil
}

var _ transport.Link = (*Link)(nil)
