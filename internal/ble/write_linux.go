//go:build linux && !baremetal

package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"

	"bandlink/internal/transport"
)

const (
	bluezService        = "org.bluez"
	ifaceDevice         = "org.bluez.Device1"
	ifaceService        = "org.bluez.GattService1"
	ifaceCharacteristic = "org.bluez.GattCharacteristic1"
)

type endpointUUIDs struct {
	service, characteristic bluetooth.UUID
}

// nativeLink tracks the BlueZ object path of each resolved endpoint. The
// bluez backend of tinygo only issues WriteValue without a write type, so
// write requests go to BlueZ directly.
type nativeLink struct {
	mu    sync.Mutex
	uuids map[uint16]endpointUUIDs
	paths map[uint16]dbus.ObjectPath
}

func newNativeLink() *nativeLink {
	return &nativeLink{
		uuids: make(map[uint16]endpointUUIDs),
		paths: make(map[uint16]dbus.ObjectPath),
	}
}

func (n *nativeLink) remember(handle uint16, service, characteristic bluetooth.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uuids[handle] = endpointUUIDs{service: service, characteristic: characteristic}
}

// writeRequest calls WriteValue with type "request"; BlueZ returns once the
// peripheral acknowledged the write.
func (l *Link) writeRequest(ctx context.Context, ep transport.Endpoint, _ bluetooth.DeviceCharacteristic, data []byte) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	path, err := l.native.path(ctx, conn, l.address, ep.Handle)
	if err != nil {
		return err
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	return conn.Object(bluezService, path).
		CallWithContext(ctx, ifaceCharacteristic+".WriteValue", 0, data, opts).Err
}

func (n *nativeLink) path(ctx context.Context, conn *dbus.Conn, address string, handle uint16) (dbus.ObjectPath, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.paths[handle]; ok {
		return p, nil
	}
	u, ok := n.uuids[handle]
	if !ok {
		return "", transport.ErrNotFound
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := conn.Object(bluezService, "/").
		CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return "", fmt.Errorf("list bluez objects: %w", err)
	}
	p, ok := findCharacteristic(objects, address, u.service, u.characteristic)
	if !ok {
		return "", fmt.Errorf("bluez object for %s: %w", u.characteristic, transport.ErrNotFound)
	}
	n.paths[handle] = p
	return p, nil
}

// findCharacteristic returns the object path of characteristic within service
// on the device with the given address.
func findCharacteristic(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, address string, service, characteristic bluetooth.UUID) (dbus.ObjectPath, bool) {
	for p, ifaces := range objects {
		char, ok := ifaces[ifaceCharacteristic]
		if !ok || !uuidProperty(char, characteristic) {
			continue
		}
		svcPath, _ := char["Service"].Value().(dbus.ObjectPath)
		svc, ok := objects[svcPath][ifaceService]
		if !ok || !uuidProperty(svc, service) {
			continue
		}
		devPath, _ := svc["Device"].Value().(dbus.ObjectPath)
		dev, ok := objects[devPath][ifaceDevice]
		if !ok {
			continue
		}
		if addr, _ := dev["Address"].Value().(string); strings.EqualFold(addr, address) {
			return p, true
		}
	}
	return "", false
}

func uuidProperty(props map[string]dbus.Variant, want bluetooth.UUID) bool {
	s, _ := props["UUID"].Value().(string)
	u, err := bluetooth.ParseUUID(s)
	return err == nil && u == want
}
