// Package bridge implements transport.Link over a serial-attached BLE central
// dongle. The host and dongle exchange CRC-protected frames; the dongle owns
// the radio and maps GATT characteristics to one-byte endpoint handles.
package bridge

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout:
//
//	sig(2) | len(2, LE payload length) | type(1) | endpoint(1) | tsn(1) | crc8(1) | crc16(2, LE) | payload
//
// crc8 covers len..tsn, crc16 covers the payload.
const (
	sig0 = 0xDE
	sig1 = 0xAD

	headerSize = 10

	// MaxPayload bounds a single frame body.
	MaxPayload = 512
)

// Frame types. Requests are answered by exactly one TypeResponse with the same TSN.
const (
	TypeWriteRequest = 0x01 // GATT write with response
	TypeWriteCommand = 0x02 // GATT write without response
	TypeRead         = 0x03
	TypeSubscribe    = 0x04
	TypeUnsubscribe  = 0x05
	TypeResolve      = 0x06 // payload: service NUL characteristic
	TypeResponse     = 0x81 // payload: status, data...
	TypeNotification = 0x82
)

// Response status bytes.
const (
	StatusOK       = 0x00
	StatusError    = 0x01
	StatusNotFound = 0x02
	StatusBusy     = 0x03
)

var (
	errBadSignature = errors.New("bad signature")
	errHeaderCRC    = errors.New("header CRC8 mismatch")
	errPayloadCRC   = errors.New("payload CRC16 mismatch")
)

// Frame is one decoded link frame.
type Frame struct {
	Type     uint8
	Endpoint uint8
	TSN      uint8
	Payload  []byte
}

func typeName(t uint8) string {
	switch t {
	case TypeWriteRequest:
		return "WRITE_REQ"
	case TypeWriteCommand:
		return "WRITE_CMD"
	case TypeRead:
		return "READ"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	case TypeResolve:
		return "RESOLVE"
	case TypeResponse:
		return "RESPONSE"
	case TypeNotification:
		return "NOTIFY"
	default:
		return fmt.Sprintf("0x%02X", t)
	}
}

// --- CRC-8 (reflected poly=0xB2, init=0xFF, xorout=0xFF) ---

var crc8Table [256]uint8

// --- CRC-16 reflected (poly=0x8408, init=0x0000, xorout=0x0000) ---

var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		c8 := uint8(i)
		c16 := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if c8&1 != 0 {
				c8 = (c8 >> 1) ^ 0xB2
			} else {
				c8 >>= 1
			}
			if c16&1 != 0 {
				c16 = (c16 >> 1) ^ 0x8408
			} else {
				c16 >>= 1
			}
		}
		crc8Table[i] = c8
		crc16Table[i] = c16
	}
}

func crc8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc ^ 0xFF
}

func crc16(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[(crc^uint16(b))&0xFF]
	}
	return crc
}

// EncodeFrame serialises f.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("bridge: payload %d bytes exceeds %d", len(f.Payload), MaxPayload)
	}
	buf := make([]byte, headerSize+len(f.Payload))
	buf[0] = sig0
	buf[1] = sig1
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	buf[4] = f.Type
	buf[5] = f.Endpoint
	buf[6] = f.TSN
	buf[7] = crc8(buf[2:7])
	binary.LittleEndian.PutUint16(buf[8:10], crc16(f.Payload))
	copy(buf[headerSize:], f.Payload)
	return buf, nil
}

// DecodeFrame parses one complete frame.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < headerSize {
		return Frame{}, fmt.Errorf("bridge: frame too short: %d bytes", len(data))
	}
	if data[0] != sig0 || data[1] != sig1 {
		return Frame{}, fmt.Errorf("bridge: 0x%02X%02X: %w", data[0], data[1], errBadSignature)
	}
	if got := crc8(data[2:7]); got != data[7] {
		return Frame{}, fmt.Errorf("bridge: got 0x%02X, want 0x%02X: %w", data[7], got, errHeaderCRC)
	}
	n := int(binary.LittleEndian.Uint16(data[2:4]))
	if headerSize+n > len(data) {
		return Frame{}, fmt.Errorf("bridge: frame truncated: need %d, have %d", headerSize+n, len(data))
	}
	payload := data[headerSize : headerSize+n]
	if got, want := crc16(payload), binary.LittleEndian.Uint16(data[8:10]); got != want {
		return Frame{}, fmt.Errorf("bridge: got 0x%04X, want 0x%04X: %w", want, got, errPayloadCRC)
	}
	return Frame{
		Type:     data[4],
		Endpoint: data[5],
		TSN:      data[6],
		Payload:  append([]byte(nil), payload...),
	}, nil
}

// readRawFrame reads the next frame from r, skipping bytes until a signature.
func readRawFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != sig0 {
			continue
		}
		next, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] == sig1 {
			break
		}
	}

	buf := make([]byte, headerSize)
	buf[0] = sig0
	if _, err := io.ReadFull(r, buf[1:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(buf[2:4]))
	if n > MaxPayload {
		return nil, fmt.Errorf("bridge: declared payload %d exceeds %d", n, MaxPayload)
	}
	buf = append(buf, make([]byte, n)...)
	if _, err := io.ReadFull(r, buf[headerSize:]); err != nil {
		return nil, err
	}
	return buf, nil
}
