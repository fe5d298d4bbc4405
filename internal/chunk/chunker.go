// Package chunk splits buffers into fixed-size packets for upload and
// reassembles sequence-numbered packets on download.
package chunk

import "fmt"

// Chunker walks a buffer in fixed-size packets. The final packet may be shorter.
type Chunker struct {
	data   []byte
	size   int
	offset int
	index  int
}

// NewChunker creates a Chunker over data. size must be positive.
func NewChunker(data []byte, size int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk: packet size must be positive, got %d", size)
	}
	return &Chunker{data: data, size: size}, nil
}

// Next returns the next packet and false once the buffer is exhausted.
// The returned slice aliases the input buffer.
func (c *Chunker) Next() ([]byte, bool) {
	if c.offset >= len(c.data) {
		return nil, false
	}
	end := min(c.offset+c.size, len(c.data))
	pkt := c.data[c.offset:end]
	c.offset = end
	c.index++
	return pkt, true
}

// Count returns the total number of packets: ceil(len/size).
func (c *Chunker) Count() int {
	return (len(c.data) + c.size - 1) / c.size
}

// Sent returns how many packets Next has returned.
func (c *Chunker) Sent() int { return c.index }

// Offset returns how many bytes Next has returned.
func (c *Chunker) Offset() int { return c.offset }

// Split returns all packets at once.
func Split(data []byte, size int) ([][]byte, error) {
	c, err := NewChunker(data, size)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, c.Count())
	for pkt, ok := c.Next(); ok; pkt, ok = c.Next() {
		out = append(out, pkt)
	}
	return out, nil
}
