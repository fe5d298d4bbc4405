package dfu

import (
	"fmt"
	"strings"

	"bandlink/internal/protocol"
)

// Profile describes one bootloader protocol version. Band firmware revisions
// differ in the init payload and in which steps answer on the control point.
type Profile struct {
	Name string

	// InitPayload builds the payload written after INITIALIZE_DFU.
	InitPayload func(img *Image) []byte

	AwaitInitResponse          bool
	AwaitNotifyRequestResponse bool
	AwaitReceiveResponse       bool // right after RECEIVE_FIRMWARE_IMAGE
	AwaitTransferResponse      bool // after the last packet when no receipt interval is set
	AwaitActivateResponse      bool

	// AwaitTransferResponseWithReceipts also reads the end-of-image response
	// when a receipt interval is set. Requires AwaitTransferResponse.
	AwaitTransferResponseWithReceipts bool
}

// ProfileCRC16 matches bootloaders that verify a CRC16 init packet.
var ProfileCRC16 = Profile{
	Name: "crc16",
	InitPayload: func(img *Image) []byte {
		return protocol.CRCInitPayload(img.CRC16())
	},
	AwaitInitResponse:     true,
	AwaitTransferResponse: true,
}

// ProfileSHA1 matches bootloaders that verify a SHA-1 init packet.
var ProfileSHA1 = Profile{
	Name: "sha1",
	InitPayload: func(img *Image) []byte {
		return protocol.SHA1InitPayload(img.SHA1())
	},
	AwaitReceiveResponse:  true,
	AwaitActivateResponse: true,
}

// ParseProfile returns the named built-in profile.
func ParseProfile(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "crc16", "crc":
		return ProfileCRC16, nil
	case "sha1", "sha":
		return ProfileSHA1, nil
	default:
		return Profile{}, fmt.Errorf("unknown dfu profile %q (valid: crc16, sha1)", name)
	}
}
