package protocol

import (
	"encoding/binary"
	"fmt"
)

// ResponseKind discriminates a ControlResponse.
type ResponseKind uint8

const (
	KindUnrecognized ResponseKind = iota
	KindCommandResponse
	KindPacketReceipt
)

func (k ResponseKind) String() string {
	switch k {
	case KindCommandResponse:
		return "CommandResponse"
	case KindPacketReceipt:
		return "PacketReceiptNotification"
	default:
		return "Unrecognized"
	}
}

// ControlResponse is one decoded control point message.
//
// RequestOpCode and Status are set for KindCommandResponse, BytesAcked for
// KindPacketReceipt. Raw always holds a copy of the received bytes.
type ControlResponse struct {
	Kind          ResponseKind
	RequestOpCode OpCode
	Status        StatusCode
	BytesAcked    uint16
	Raw           []byte
}

func (r ControlResponse) String() string {
	switch r.Kind {
	case KindCommandResponse:
		return fmt.Sprintf("RESPONSE(%s: %s)", r.RequestOpCode, r.Status)
	case KindPacketReceipt:
		return fmt.Sprintf("PKT_RCPT_NOTIF(%d bytes)", r.BytesAcked)
	default:
		return fmt.Sprintf("Unrecognized(%X)", r.Raw)
	}
}

// Decode parses a control point message.
//
//	[16, requestOpCode, status] -> CommandResponse
//	[17, ackLo, ackHi, ...]     -> PacketReceiptNotification
//
// Anything else, including truncated RESPONSE/PKT_RCPT_NOTIF messages, is
// Unrecognized.
func Decode(b []byte) ControlResponse {
	resp := ControlResponse{Raw: append([]byte(nil), b...)}
	if len(b) == 0 {
		return resp
	}

	switch OpCode(b[0]) {
	case OpResponse:
		if len(b) < 3 {
			return resp
		}
		resp.Kind = KindCommandResponse
		resp.RequestOpCode = OpCode(b[1])
		resp.Status = StatusCode(b[2])
	case OpPacketReceiptNotif:
		if len(b) < 3 {
			return resp
		}
		resp.Kind = KindPacketReceipt
		resp.BytesAcked = binary.LittleEndian.Uint16(b[1:3])
	}
	return resp
}

// ExpectCommand checks that resp is a successful response to op.
func ExpectCommand(resp ControlResponse, op OpCode) error {
	if resp.Kind != KindCommandResponse {
		return &ProtocolError{
			Operation: op.String(),
			Response:  resp,
			Reason:    fmt.Sprintf("expected RESPONSE, got %s", resp.Kind),
		}
	}
	if resp.RequestOpCode != op {
		return &ProtocolError{
			Operation: op.String(),
			Response:  resp,
			Reason:    fmt.Sprintf("response for %s", resp.RequestOpCode),
		}
	}
	if resp.Status != StatusSuccess {
		return &ProtocolError{
			Operation: op.String(),
			Response:  resp,
			Reason:    resp.Status.String(),
		}
	}
	return nil
}

// ExpectReceipt checks that resp acknowledges bytesSent. The notification only
// carries 16 bits, so the comparison is modulo 2^16.
func ExpectReceipt(resp ControlResponse, bytesSent uint32) error {
	if resp.Kind != KindPacketReceipt {
		return &ProtocolError{
			Operation: OpPacketReceiptNotif.String(),
			Response:  resp,
			Reason:    fmt.Sprintf("expected PKT_RCPT_NOTIF, got %s", resp.Kind),
		}
	}
	if resp.BytesAcked != uint16(bytesSent) {
		return &ProtocolError{
			Operation: OpPacketReceiptNotif.String(),
			Response:  resp,
			Reason:    fmt.Sprintf("acked %d bytes, sent %d", resp.BytesAcked, bytesSent),
		}
	}
	return nil
}
