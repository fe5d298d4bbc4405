package main

import (
	"encoding/hex"
	"sync"
	"time"

	"bandlink/internal/events"
	"bandlink/internal/store"
)

// progressInterval throttles TransferProgress events between percentage steps.
const progressInterval = 250 * time.Millisecond

// tracker turns session callbacks into bus events for one transfer.
type tracker struct {
	bus    *events.Bus
	id     string
	kind   string
	device string

	mu       sync.Mutex
	state    string
	lastPct  float64
	lastEmit time.Time
}

func newTracker(bus *events.Bus, kind, device string, total int) *tracker {
	t := &tracker{
		bus:     bus,
		id:      store.NewID(),
		kind:    kind,
		device:  device,
		lastPct: -1,
	}
	bus.Emit(events.Event{Type: events.TransferStarted, Data: events.Started{
		ID: t.id, Kind: kind, Device: device, Total: total,
	}})
	return t
}

// update emits a state change when state differs from the last one seen and
// a throttled progress event otherwise.
func (t *tracker) update(state string, bytes, total, packets int, pct float64, elapsed time.Duration) {
	t.mu.Lock()
	changed := state != t.state
	t.state = state
	now := time.Now()
	emitProgress := changed || pct >= t.lastPct+1 || (total > 0 && bytes >= total) ||
		now.Sub(t.lastEmit) >= progressInterval
	if emitProgress {
		t.lastPct = pct
		t.lastEmit = now
	}
	t.mu.Unlock()

	if changed {
		t.bus.Emit(events.Event{Type: events.TransferState, Data: events.StateChange{
			ID: t.id, Kind: t.kind, State: state,
		}})
	}
	if emitProgress {
		t.bus.Emit(events.Event{Type: events.TransferProgress, Data: events.Progress{
			ID: t.id, Kind: t.kind, Bytes: bytes, Total: total, Packets: packets,
			Percentage: pct, Elapsed: elapsed,
		}})
	}
}

func (t *tracker) integrity(verified bool, digest []byte) {
	t.bus.Emit(events.Event{Type: events.IntegrityResult, Data: events.Integrity{
		ID: t.id, Verified: verified, Digest: hex.EncodeToString(digest),
	}})
}

// finish emits TransferComplete, or TransferFailed when err is non-nil.
func (t *tracker) finish(state string, bytes, packets int, elapsed time.Duration, err error) {
	f := events.Finished{
		ID: t.id, Kind: t.kind, Device: t.device, State: state,
		Bytes: bytes, Packets: packets, Elapsed: elapsed,
	}
	typ := events.TransferComplete
	if err != nil {
		typ = events.TransferFailed
		f.Error = err.Error()
	}
	t.bus.Emit(events.Event{Type: typ, Data: f})
}
