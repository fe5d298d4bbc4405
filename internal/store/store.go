// Package store persists transfer history and downloaded sensor buffers.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Transfer is one DFU upload or sensor sync attempt.
type Transfer struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"` // "dfu" or "sync"
	Device     string        `json:"device"`
	Variant    string        `json:"variant,omitempty"` // dfu profile or sync header format
	Image      string        `json:"image,omitempty"`
	State      string        `json:"state"`
	Bytes      int           `json:"bytes"`
	Packets    int           `json:"packets"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns,omitempty"`
	Error      string        `json:"error,omitempty"`
	Verified   *bool         `json:"verified,omitempty"`
	Digest     string        `json:"digest,omitempty"`
}

// Done reports whether the transfer reached a terminal state.
func (t *Transfer) Done() bool {
	return !t.FinishedAt.IsZero()
}

// NewID returns a fresh transfer identifier.
func NewID() string {
	return uuid.NewString()
}

// Store defines the persistence interface.
type Store interface {
	SaveTransfer(t *Transfer) error
	GetTransfer(id string) (*Transfer, error)

	// UpdateTransfer atomically reads, modifies and saves a transfer.
	// Returns ErrNotFound if it does not exist.
	UpdateTransfer(id string, fn func(t *Transfer) error) error

	// ListTransfers returns transfers newest first. limit <= 0 means all.
	ListTransfers(limit int) ([]*Transfer, error)

	// DeleteTransfer removes a transfer and its download payload.
	DeleteTransfer(id string) error

	SaveDownload(id string, data []byte) error
	GetDownload(id string) ([]byte, error)

	Close() error
}
