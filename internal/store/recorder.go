package store

import (
	"log/slog"
	"time"

	"bandlink/internal/events"
)

// Record persists transfer lifecycle events from bus into s. It returns a
// function that detaches the recorder.
func Record(bus *events.Bus, s Store, logger *slog.Logger) func() {
	logger = logger.With("component", "store")

	offs := []func(){
		bus.On(events.TransferStarted, func(e events.Event) {
			d, ok := e.Data.(events.Started)
			if !ok {
				return
			}
			t := &Transfer{
				ID:        d.ID,
				Kind:      d.Kind,
				Device:    d.Device,
				State:     "started",
				StartedAt: time.Now(),
			}
			if err := s.SaveTransfer(t); err != nil {
				logger.Error("save transfer", "id", d.ID, "err", err)
			}
		}),
		bus.On(events.TransferState, func(e events.Event) {
			d, ok := e.Data.(events.StateChange)
			if !ok {
				return
			}
			update(s, logger, d.ID, func(t *Transfer) {
				t.State = d.State
			})
		}),
		bus.On(events.IntegrityResult, func(e events.Event) {
			d, ok := e.Data.(events.Integrity)
			if !ok {
				return
			}
			update(s, logger, d.ID, func(t *Transfer) {
				verified := d.Verified
				t.Verified = &verified
				t.Digest = d.Digest
			})
		}),
	}

	finish := func(e events.Event) {
		d, ok := e.Data.(events.Finished)
		if !ok {
			return
		}
		update(s, logger, d.ID, func(t *Transfer) {
			t.State = d.State
			t.Bytes = d.Bytes
			t.Packets = d.Packets
			t.Elapsed = d.Elapsed
			t.Error = d.Error
			t.FinishedAt = time.Now()
		})
	}
	offs = append(offs,
		bus.On(events.TransferComplete, finish),
		bus.On(events.TransferFailed, finish),
	)

	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func update(s Store, logger *slog.Logger, id string, fn func(t *Transfer)) {
	err := s.UpdateTransfer(id, func(t *Transfer) error {
		fn(t)
		return nil
	})
	if err != nil {
		logger.Warn("update transfer", "id", id, "err", err)
	}
}
