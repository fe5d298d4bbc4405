// Package protocol implements the Band DFU/sync wire format: op-codes, status
// codes, little-endian field encoding, the CRC16 and SHA-1 integrity values and
// decoding of control point responses.
package protocol

import "fmt"

// PacketSize is the fixed data endpoint packet size (one ATT write at default MTU).
const PacketSize = 20

// Digest sizes.
const (
	DigestSize          = 20
	TruncatedDigestSize = 19
)

// CRC16Seed is the initial value of the running CRC16.
const CRC16Seed = 0xFFFF

// OpCode is a control point op-code.
type OpCode uint8

const (
	OpStartDFU                  OpCode = 1
	OpInitializeDFU             OpCode = 2
	OpReceiveFirmwareImage      OpCode = 3
	OpValidateFirmwareImage     OpCode = 4
	OpActivateFirmwareAndReset  OpCode = 5
	OpSystemReset               OpCode = 6
	OpRequestPacketReceiptNotif OpCode = 8
	OpResponse                  OpCode = 16
	OpPacketReceiptNotif        OpCode = 17
)

func (o OpCode) String() string {
	switch o {
	case OpStartDFU:
		return "START_DFU"
	case OpInitializeDFU:
		return "INITIALIZE_DFU"
	case OpReceiveFirmwareImage:
		return "RECEIVE_FIRMWARE_IMAGE"
	case OpValidateFirmwareImage:
		return "VALIDATE_FIRMWARE_IMAGE"
	case OpActivateFirmwareAndReset:
		return "ACTIVATE_FIRMWARE_AND_RESET"
	case OpSystemReset:
		return "SYSTEM_RESET"
	case OpRequestPacketReceiptNotif:
		return "REQ_PKT_RCPT_NOTIF"
	case OpResponse:
		return "RESPONSE"
	case OpPacketReceiptNotif:
		return "PKT_RCPT_NOTIF"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(o))
	}
}

// StatusCode is the result carried in a RESPONSE message.
type StatusCode uint8

const (
	StatusSuccess          StatusCode = 1
	StatusInvalidState     StatusCode = 2
	StatusNotSupported     StatusCode = 3
	StatusDataSizeExceeded StatusCode = 4
	StatusCRCError         StatusCode = 5
	StatusOperationFailed  StatusCode = 6
)

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidState:
		return "Invalid State"
	case StatusNotSupported:
		return "Not Supported"
	case StatusDataSizeExceeded:
		return "Data Size Exceeds Limit"
	case StatusCRCError:
		return "CRC Error"
	case StatusOperationFailed:
		return "Operation Failed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Sync service control codes.
const (
	// CmdSendSensorData asks the device to stream its sample buffer on the data endpoint.
	CmdSendSensorData byte = 0x02
)

// Well-known UUIDs used by the Band firmware.
const (
	DFUServiceUUID      = "00001530-1212-EFDE-1523-785FEABCD123"
	DFUControlPointUUID = "00001531-1212-EFDE-1523-785FEABCD123"
	DFUPacketUUID       = "00001532-1212-EFDE-1523-785FEABCD123"

	SyncServiceUUID = "0000BA5E-1212-EFDE-1523-785FEABCD123"
	SyncControlUUID = "DEED"
	SyncDataUUID    = "FEED"
)
