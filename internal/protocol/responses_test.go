package protocol

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bandlink/internal/transport"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  ControlResponse
	}{
		{
			name:  "receive image success",
			input: []byte{16, 3, 1},
			want:  ControlResponse{Kind: KindCommandResponse, RequestOpCode: OpReceiveFirmwareImage, Status: StatusSuccess},
		},
		{
			name:  "init crc error",
			input: []byte{16, 2, 5},
			want:  ControlResponse{Kind: KindCommandResponse, RequestOpCode: OpInitializeDFU, Status: StatusCRCError},
		},
		{
			name:  "packet receipt",
			input: []byte{17, 0x34, 0x12},
			want:  ControlResponse{Kind: KindPacketReceipt, BytesAcked: 0x1234},
		},
		{
			name:  "packet receipt with 32-bit count",
			input: []byte{17, 0x28, 0x00, 0x00, 0x00},
			want:  ControlResponse{Kind: KindPacketReceipt, BytesAcked: 40},
		},
		{
			name:  "unknown op-code",
			input: []byte{0x42, 0x01},
			want:  ControlResponse{Kind: KindUnrecognized},
		},
		{
			name:  "truncated response",
			input: []byte{16, 1},
			want:  ControlResponse{Kind: KindUnrecognized},
		},
		{
			name:  "empty",
			input: []byte{},
			want:  ControlResponse{Kind: KindUnrecognized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.input)
			if got.Kind != tt.want.Kind {
				t.Errorf("kind = %s, want %s", got.Kind, tt.want.Kind)
			}
			if got.RequestOpCode != tt.want.RequestOpCode {
				t.Errorf("op = %s, want %s", got.RequestOpCode, tt.want.RequestOpCode)
			}
			if got.Status != tt.want.Status {
				t.Errorf("status = %s, want %s", got.Status, tt.want.Status)
			}
			if got.BytesAcked != tt.want.BytesAcked {
				t.Errorf("acked = %d, want %d", got.BytesAcked, tt.want.BytesAcked)
			}
			if !bytes.Equal(got.Raw, tt.input) {
				t.Errorf("raw = %X, want %X", got.Raw, tt.input)
			}
		})
	}
}

func TestDecodeCopiesRaw(t *testing.T) {
	in := []byte{0x99, 0x01}
	resp := Decode(in)
	in[0] = 0
	if resp.Raw[0] != 0x99 {
		t.Error("Decode kept a reference to the input buffer")
	}
}

func TestExpectCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		op      OpCode
		wantErr string
	}{
		{"success", []byte{16, 1, 1}, OpStartDFU, ""},
		{"wrong op", []byte{16, 2, 1}, OpStartDFU, "response for INITIALIZE_DFU"},
		{"bad status", []byte{16, 2, 5}, OpInitializeDFU, "CRC Error"},
		{"receipt instead", []byte{17, 0, 0}, OpValidateFirmwareImage, "expected RESPONSE"},
		{"unrecognized", []byte{0xAA}, OpStartDFU, "expected RESPONSE, got Unrecognized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ExpectCommand(Decode(tt.input), tt.op)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("error type %T, want *ProtocolError", err)
			}
			if !bytes.Equal(pe.Response.Raw, tt.input) {
				t.Errorf("attached response raw = %X", pe.Response.Raw)
			}
		})
	}
}

func TestExpectReceipt(t *testing.T) {
	if err := ExpectReceipt(Decode([]byte{17, 200, 0}), 200); err != nil {
		t.Errorf("matching receipt: %v", err)
	}
	// 70000 mod 65536 = 4464 = 0x1170
	if err := ExpectReceipt(Decode([]byte{17, 0x70, 0x11}), 70000); err != nil {
		t.Errorf("wrapped receipt: %v", err)
	}
	if err := ExpectReceipt(Decode([]byte{17, 100, 0}), 200); !IsProtocolError(err) {
		t.Errorf("mismatch err = %v, want ProtocolError", err)
	}
	if err := ExpectReceipt(Decode([]byte{16, 3, 1}), 200); !IsProtocolError(err) {
		t.Errorf("wrong kind err = %v, want ProtocolError", err)
	}
}

func TestReceive(t *testing.T) {
	t.Run("data", func(t *testing.T) {
		q := transport.NewQueue(nil)
		q.Push([]byte{16, 1, 1})
		buf, err := Receive(context.Background(), q, "START_DFU", time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf, []byte{16, 1, 1}) {
			t.Errorf("buf = %X", buf)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		q := transport.NewQueue(nil)
		_, err := Receive(context.Background(), q, "START_DFU", 20*time.Millisecond)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
		var te *TimeoutError
		if !errors.As(err, &te) || te.Operation != "START_DFU" {
			t.Errorf("timeout error = %#v", err)
		}
	})

	t.Run("caller cancel", func(t *testing.T) {
		q := transport.NewQueue(nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Receive(ctx, q, "VALIDATE", time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if errors.Is(err, ErrTimeout) {
			t.Error("cancellation reported as timeout")
		}
	})

	t.Run("closed", func(t *testing.T) {
		q := transport.NewQueue(nil)
		q.Close()
		_, err := Receive(context.Background(), q, "VALIDATE", time.Second)
		if !IsTransportError(err) || !errors.Is(err, transport.ErrClosed) {
			t.Errorf("err = %v, want TransportError wrapping ErrClosed", err)
		}
	})
}
