package ble

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tinygo.org/x/bluetooth"

	"bandlink/internal/protocol"
	"bandlink/internal/transport"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		in   string
		want bluetooth.UUID
	}{
		{protocol.SyncDataUUID, bluetooth.New16BitUUID(0xFEED)},
		{"0xdeed", bluetooth.New16BitUUID(0xDEED)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseUUID(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("parseUUID(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseUUID128(t *testing.T) {
	got, err := parseUUID(protocol.DFUControlPointUUID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(got.String(), protocol.DFUControlPointUUID) {
		t.Errorf("String() = %s", got.String())
	}
}

func TestParseUUIDInvalid(t *testing.T) {
	for _, in := range []string{"ZZZZ", "not-a-uuid", ""} {
		if _, err := parseUUID(in); err == nil {
			t.Errorf("parseUUID(%q) succeeded", in)
		}
	}
}

func TestWriteUnknownEndpoint(t *testing.T) {
	l := &Link{chars: make(map[uint16]bluetooth.DeviceCharacteristic), native: newNativeLink()}
	for _, confirm := range []bool{true, false} {
		err := l.Write(context.Background(), transport.Endpoint{UUID: "1531", Handle: 3}, []byte{0x01}, confirm)
		if !errors.Is(err, transport.ErrNotFound) {
			t.Errorf("confirm=%v: err = %v, want ErrNotFound", confirm, err)
		}
	}
}
