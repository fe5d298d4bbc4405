package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"bandlink/internal/events"
)

// attachProgress draws a live progress line on w when w is a terminal. It
// returns a detach function; on non-terminals it does nothing.
func attachProgress(bus *events.Bus, w io.Writer) func() {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}

	state := ""
	offs := []func(){
		bus.On(events.TransferState, func(e events.Event) {
			if d, ok := e.Data.(events.StateChange); ok {
				state = d.State
			}
		}),
		bus.On(events.TransferProgress, func(e events.Event) {
			if d, ok := e.Data.(events.Progress); ok {
				fmt.Fprint(f, "\r"+progressLine(state, d, width))
			}
		}),
	}
	end := func(events.Event) { fmt.Fprint(f, "\r"+strings.Repeat(" ", width-1)+"\r") }
	offs = append(offs,
		bus.On(events.TransferComplete, end),
		bus.On(events.TransferFailed, end),
	)
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// progressLine renders one status line no wider than width-1 columns.
func progressLine(state string, p events.Progress, width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s ", state)
	if p.Total > 0 {
		const bar = 20
		filled := int(p.Percentage / 100 * bar)
		if filled > bar {
			filled = bar
		}
		fmt.Fprintf(&b, "[%s%s] %5.1f%% %d/%d B", strings.Repeat("#", filled), strings.Repeat(".", bar-filled),
			p.Percentage, p.Bytes, p.Total)
	} else {
		fmt.Fprintf(&b, "%d B %d pkts", p.Bytes, p.Packets)
	}
	fmt.Fprintf(&b, " %s", p.Elapsed.Round(100*time.Millisecond))

	line := b.String()
	if width > 1 && len(line) > width-1 {
		line = line[:width-1]
	}
	return line
}
