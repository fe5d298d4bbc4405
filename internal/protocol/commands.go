package protocol

// Command builds a bare control point command.
func Command(op OpCode) []byte {
	return []byte{byte(op)}
}

// PacketReceiptRequest builds REQ_PKT_RCPT_NOTIF asking for a receipt every n packets.
func PacketReceiptRequest(n uint16) []byte {
	v := EncodeU16LE(n)
	return []byte{byte(OpRequestPacketReceiptNotif), v[0], v[1]}
}

// StartPayload is the image size written to the packet endpoint after START_DFU.
func StartPayload(size uint32) []byte {
	v := EncodeU32LE(size)
	return v[:]
}

// CRCInitPayload is the INITIALIZE_DFU payload for bootloaders that verify a CRC16.
func CRCInitPayload(crc uint16) []byte {
	v := EncodeU16LE(crc)
	return v[:]
}

// SHA1InitPayload is the INITIALIZE_DFU payload for bootloaders that verify a SHA-1.
func SHA1InitPayload(sum [DigestSize]byte) []byte {
	out := make([]byte, DigestSize)
	copy(out, sum[:])
	return out
}
