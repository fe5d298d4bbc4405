package store

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"bandlink/internal/events"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetTransfer(t *testing.T) {
	s := newTestStore(t)

	tr := &Transfer{
		ID:        NewID(),
		Kind:      events.KindDFU,
		Device:    "Band",
		Variant:   "crc16",
		Image:     "band-1.2.bin",
		State:     "activated",
		Bytes:     4096,
		Packets:   205,
		StartedAt: time.Now().Truncate(time.Millisecond),
	}
	if err := s.SaveTransfer(tr); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTransfer(tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Device != "Band" || got.Variant != "crc16" || got.Bytes != 4096 || got.Packets != 205 {
		t.Errorf("got %+v", got)
	}
	if !got.StartedAt.Equal(tr.StartedAt) {
		t.Errorf("started = %v, want %v", got.StartedAt, tr.StartedAt)
	}
	if got.Done() {
		t.Error("Done() = true for unfinished transfer")
	}
}

func TestGetTransferNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTransfer("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateTransfer("missing", func(*Transfer) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("update err = %v, want ErrNotFound", err)
	}
}

func TestSaveTransferRequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveTransfer(&Transfer{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestListTransfersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		tr := &Transfer{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveTransfer(tr); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListTransfers(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("order = %v", ids(all))
	}

	limited, err := s.ListTransfers(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ID != "c" {
		t.Errorf("limited = %v", ids(limited))
	}
}

func TestDownloadRoundTripAndDelete(t *testing.T) {
	s := newTestStore(t)
	id := NewID()
	if err := s.SaveTransfer(&Transfer{ID: id, Kind: events.KindSync}); err != nil {
		t.Fatal(err)
	}
	data := []byte{1, 2, 3, 4}
	if err := s.SaveDownload(id, data); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDownload(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("download = %X", got)
	}

	if err := s.DeleteTransfer(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDownload(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("download after delete: err = %v", err)
	}
	if _, err := s.GetTransfer(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("transfer after delete: err = %v", err)
	}
}

func TestRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	off := Record(bus, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer off()

	id := NewID()
	bus.Emit(events.Event{Type: events.TransferStarted, Data: events.Started{ID: id, Kind: events.KindSync, Device: "Band"}})
	bus.Emit(events.Event{Type: events.TransferState, Data: events.StateChange{ID: id, State: "receiving"}})
	bus.Emit(events.Event{Type: events.IntegrityResult, Data: events.Integrity{ID: id, Verified: true, Digest: "AB"}})
	bus.Emit(events.Event{Type: events.TransferComplete, Data: events.Finished{
		ID: id, State: "complete", Bytes: 38, Packets: 3, Elapsed: time.Second,
	}})

	got, err := s.GetTransfer(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "complete" || got.Bytes != 38 || got.Packets != 3 || !got.Done() {
		t.Errorf("transfer = %+v", got)
	}
	if got.Verified == nil || !*got.Verified || got.Digest != "AB" {
		t.Errorf("integrity = %v %q", got.Verified, got.Digest)
	}
}

func TestRecordFailure(t *testing.T) {
	s := newTestStore(t)
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	Record(bus, s, slog.New(slog.NewTextHandler(io.Discard, nil)))

	bus.Emit(events.Event{Type: events.TransferStarted, Data: events.Started{ID: "x", Kind: events.KindDFU}})
	bus.Emit(events.Event{Type: events.TransferFailed, Data: events.Finished{ID: "x", State: "failed", Error: "CRC Error"}})

	got, err := s.GetTransfer("x")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "failed" || got.Error != "CRC Error" {
		t.Errorf("transfer = %+v", got)
	}
}

func ids(ts []*Transfer) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}
