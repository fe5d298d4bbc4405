//go:build darwin || windows

package ble

import (
	"context"

	"tinygo.org/x/bluetooth"

	"bandlink/internal/transport"
)

type nativeLink struct{}

func newNativeLink() *nativeLink { return &nativeLink{} }

func (*nativeLink) remember(uint16, bluetooth.UUID, bluetooth.UUID) {}

func (l *Link) writeRequest(_ context.Context, _ transport.Endpoint, c bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.Write(data)
	return err
}
