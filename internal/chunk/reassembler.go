package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotFilled is returned when a sequence number arrives twice.
	ErrSlotFilled = errors.New("slot already written")

	// ErrSlotRange is returned when a sequence number falls outside the slot table.
	ErrSlotRange = errors.New("slot out of range")
)

// Reassembler stores packet payloads by sequence number in a fixed table.
// Each slot is written at most once.
type Reassembler struct {
	slots    [][]byte
	written  []bool
	received int
	bytes    int
	limit    int
}

// NewReassembler creates a table with capacity slots.
func NewReassembler(capacity int) (*Reassembler, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("chunk: capacity must be positive, got %d", capacity)
	}
	return &Reassembler{
		slots:   make([][]byte, capacity),
		written: make([]bool, capacity),
		limit:   capacity,
	}, nil
}

// Put stores a copy of payload in slot seq.
func (r *Reassembler) Put(seq int, payload []byte) error {
	if seq < 0 || seq >= r.limit {
		return fmt.Errorf("seq %d (limit %d): %w", seq, r.limit, ErrSlotRange)
	}
	if r.written[seq] {
		return fmt.Errorf("seq %d: %w", seq, ErrSlotFilled)
	}
	r.slots[seq] = append([]byte(nil), payload...)
	r.written[seq] = true
	r.received++
	r.bytes += len(payload)
	return nil
}

// Limit narrows the usable slots to the first n, e.g. once a header declared
// the packet count. It fails if a slot at or beyond n is already written.
func (r *Reassembler) Limit(n int) error {
	if n <= 0 || n > len(r.slots) {
		return fmt.Errorf("limit %d (capacity %d): %w", n, len(r.slots), ErrSlotRange)
	}
	for i := n; i < len(r.slots); i++ {
		if r.written[i] {
			return fmt.Errorf("seq %d beyond declared count %d: %w", i, n, ErrSlotRange)
		}
	}
	r.limit = n
	return nil
}

// Received returns the number of written slots.
func (r *Reassembler) Received() int { return r.received }

// Bytes returns the summed payload length of all written slots.
func (r *Reassembler) Bytes() int { return r.bytes }

// Capacity returns the current slot limit.
func (r *Reassembler) Capacity() int { return r.limit }

// Slot returns the payload stored at seq and whether it was written.
func (r *Reassembler) Slot(seq int) ([]byte, bool) {
	if seq < 0 || seq >= len(r.slots) {
		return nil, false
	}
	return r.slots[seq], r.written[seq]
}

// Assemble concatenates slots [0, n) in order. Unwritten slots contribute nothing.
func (r *Reassembler) Assemble(n int) []byte {
	n = min(n, len(r.slots))
	size := 0
	for i := 0; i < n; i++ {
		size += len(r.slots[i])
	}
	out := make([]byte, 0, size)
	for i := 0; i < n; i++ {
		out = append(out, r.slots[i]...)
	}
	return out
}
