package protocol

import (
	"crypto/sha1"
	"encoding/binary"
)

// EncodeU16LE encodes v little-endian.
func EncodeU16LE(v uint16) [2]byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b
}

// EncodeU32LE encodes v little-endian.
func EncodeU32LE(v uint32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b
}

// CRC16 computes the image checksum the bootloader verifies after transfer.
//
// Per byte: swap the two halves, XOR in the byte, then fold the low nibble
// back in with two XOR-shift steps. The device compares against exactly this
// value, so keep the recurrence as is.
func CRC16(data []byte) uint16 {
	crc := uint16(CRC16Seed)
	for _, b := range data {
		crc = crc>>8 | crc<<8
		crc ^= uint16(b)
		crc ^= (crc & 0xFF) >> 4
		crc ^= crc << 12
		crc ^= (crc & 0xFF) << 5
	}
	return crc
}

// SHA1Digest returns the SHA-1 of data.
func SHA1Digest(data []byte) [DigestSize]byte {
	return sha1.Sum(data)
}

// Truncate19 drops the last byte of a SHA-1 digest. The sync stream only has
// room for 19 digest bytes in its final packet.
func Truncate19(digest [DigestSize]byte) [TruncatedDigestSize]byte {
	var out [TruncatedDigestSize]byte
	copy(out[:], digest[:TruncatedDigestSize])
	return out
}
