//go:build linux && !baremetal

package ble

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

func bluezObjects() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	v := dbus.MakeVariant
	dev := func(addr string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{ifaceDevice: {"Address": v(addr)}}
	}
	svc := func(uuid, device string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{ifaceService: {"UUID": v(uuid), "Device": v(dbus.ObjectPath(device))}}
	}
	char := func(uuid, service string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{ifaceCharacteristic: {"UUID": v(uuid), "Service": v(dbus.ObjectPath(service))}}
	}
	const (
		band  = "/org/bluez/hci0/dev_C0_FF_EE_00_00_01"
		other = "/org/bluez/hci0/dev_C0_FF_EE_00_00_02"
	)
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	objects[band] = dev("C0:FF:EE:00:00:01")
	objects[band+"/service0010"] = svc("00001530-1212-efde-1523-785feabcd123", band)
	objects[band+"/service0010/char0011"] = char("00001531-1212-efde-1523-785feabcd123", band+"/service0010")
	objects[band+"/service0010/char0013"] = char("00001532-1212-efde-1523-785feabcd123", band+"/service0010")
	objects[other] = dev("C0:FF:EE:00:00:02")
	objects[other+"/service0010"] = svc("00001530-1212-efde-1523-785feabcd123", other)
	objects[other+"/service0010/char0011"] = char("00001531-1212-efde-1523-785feabcd123", other+"/service0010")
	return objects
}

func TestFindCharacteristic(t *testing.T) {
	service, _ := bluetooth.ParseUUID("00001530-1212-EFDE-1523-785FEABCD123")
	control, _ := bluetooth.ParseUUID("00001531-1212-EFDE-1523-785FEABCD123")
	packet, _ := bluetooth.ParseUUID("00001532-1212-EFDE-1523-785FEABCD123")
	missing, _ := bluetooth.ParseUUID("00001534-1212-EFDE-1523-785FEABCD123")

	tests := []struct {
		name    string
		address string
		char    bluetooth.UUID
		want    dbus.ObjectPath
		found   bool
	}{
		{"control point", "C0:FF:EE:00:00:01", control, "/org/bluez/hci0/dev_C0_FF_EE_00_00_01/service0010/char0011", true},
		{"address case", "c0:ff:ee:00:00:01", packet, "/org/bluez/hci0/dev_C0_FF_EE_00_00_01/service0010/char0013", true},
		{"other device", "C0:FF:EE:00:00:02", control, "/org/bluez/hci0/dev_C0_FF_EE_00_00_02/service0010/char0011", true},
		{"not on device", "C0:FF:EE:00:00:02", packet, "", false},
		{"unknown characteristic", "C0:FF:EE:00:00:01", missing, "", false},
		{"unknown device", "C0:FF:EE:00:00:09", control, "", false},
	}
	objects := bluezObjects()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := findCharacteristic(objects, tt.address, service, tt.char)
			if ok != tt.found || got != tt.want {
				t.Errorf("findCharacteristic = %q, %v; want %q, %v", got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestNativeLinkUnresolvedHandle(t *testing.T) {
	n := newNativeLink()
	if _, ok := n.uuids[7]; ok {
		t.Fatal("fresh link has remembered handles")
	}
	u, _ := bluetooth.ParseUUID("0000FEED-0000-1000-8000-00805F9B34FB")
	n.remember(7, u, u)
	if got := n.uuids[7]; got.characteristic != u {
		t.Errorf("remembered = %+v", got)
	}
}
