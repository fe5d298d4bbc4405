//go:build !darwin && !windows && !(linux && !baremetal)

package ble

import (
	"context"

	"tinygo.org/x/bluetooth"

	"bandlink/internal/transport"
)

type nativeLink struct{}

func newNativeLink() *nativeLink { return &nativeLink{} }

func (*nativeLink) remember(uint16, bluetooth.UUID, bluetooth.UUID) {}

func (l *Link) writeRequest(context.Context, transport.Endpoint, bluetooth.DeviceCharacteristic, []byte) error {
	return ErrConfirmUnsupported
}
