// Package dfu uploads a firmware image to the Band bootloader over the DFU
// control point and packet characteristics.
package dfu

import (
	"errors"
	"fmt"
	"math"
	"os"

	"bandlink/internal/protocol"
)

// ErrEmptyImage is returned for a zero-length firmware image.
var ErrEmptyImage = errors.New("firmware image is empty")

// Image is an immutable firmware image with its integrity values computed once.
type Image struct {
	data []byte
	crc  uint16
	sum  [protocol.DigestSize]byte
}

// NewImage copies data and computes its CRC16 and SHA-1.
func NewImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("firmware image is %d bytes, exceeds 32-bit size field", len(data))
	}
	buf := append([]byte(nil), data...)
	return &Image{
		data: buf,
		crc:  protocol.CRC16(buf),
		sum:  protocol.SHA1Digest(buf),
	}, nil
}

// LoadImage reads a raw .bin firmware file.
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware: %w", err)
	}
	img, err := NewImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Size returns the image length in bytes.
func (i *Image) Size() uint32 { return uint32(len(i.data)) }

// CRC16 returns the bootloader CRC16 of the whole image.
func (i *Image) CRC16() uint16 { return i.crc }

// SHA1 returns the SHA-1 digest of the whole image.
func (i *Image) SHA1() [protocol.DigestSize]byte { return i.sum }

// Data returns a copy of the image bytes.
func (i *Image) Data() []byte { return append([]byte(nil), i.data...) }
