//go:build !darwin && !windows && !(linux && !baremetal)

package ble

import (
	"context"
	"errors"
	"testing"

	"tinygo.org/x/bluetooth"

	"bandlink/internal/transport"
)

func TestWriteRequestUnsupported(t *testing.T) {
	l := &Link{native: newNativeLink()}
	err := l.writeRequest(context.Background(), transport.Endpoint{Handle: 1}, bluetooth.DeviceCharacteristic{}, []byte{0x01})
	if !errors.Is(err, ErrConfirmUnsupported) {
		t.Errorf("err = %v, want ErrConfirmUnsupported", err)
	}
}
