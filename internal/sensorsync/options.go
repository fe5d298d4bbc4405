// Package sensorsync downloads the Band's buffered sensor samples from the
// sync service data characteristic and reassembles them.
package sensorsync

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"bandlink/internal/protocol"
)

// HeaderFormat selects how the header packet (sequence number 0) declares
// the transfer size. Firmware revisions use different layouts.
type HeaderFormat int

const (
	// HeaderPacketCount is [0, count, payload...]. The last packet carries
	// the truncated SHA-1 of all earlier payloads.
	HeaderPacketCount HeaderFormat = iota

	// HeaderByteCount is [0, lenLo, lenHi, payload...]. No digest is sent.
	HeaderByteCount
)

func (f HeaderFormat) String() string {
	switch f {
	case HeaderPacketCount:
		return "packet_count"
	case HeaderByteCount:
		return "byte_count"
	default:
		return fmt.Sprintf("HeaderFormat(%d)", int(f))
	}
}

// ParseHeaderFormat parses "packet_count" or "byte_count".
func ParseHeaderFormat(s string) (HeaderFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "packet_count", "packets":
		return HeaderPacketCount, nil
	case "byte_count", "bytes":
		return HeaderByteCount, nil
	default:
		return 0, fmt.Errorf("unknown header format %q (valid: packet_count, byte_count)", s)
	}
}

// DefaultCapacity is the slot table size. A one-byte sequence number cannot
// address more.
const DefaultCapacity = 256

// Progress is reported after every accepted packet.
type Progress struct {
	State    State
	Packets  int
	Bytes    int
	Expected int // declared packets or bytes, 0 until the header arrives
	Elapsed  time.Duration
}

// Config holds the session settings.
type Config struct {
	Format         HeaderFormat
	Command        []byte
	ConfirmCommand bool
	ReadTimeout    time.Duration
	Capacity       int
	Logger         *slog.Logger
	OnProgress     func(Progress)
}

func defaultConfig() Config {
	return Config{
		Format:      HeaderPacketCount,
		Command:     []byte{protocol.CmdSendSensorData},
		ReadTimeout: 10 * time.Second,
		Capacity:    DefaultCapacity,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a Session.
type Option func(*Config)

// WithHeaderFormat selects the header layout.
func WithHeaderFormat(f HeaderFormat) Option {
	return func(c *Config) {
		c.Format = f
	}
}

// WithCommand sets the start command written to the control characteristic.
func WithCommand(cmd []byte, confirm bool) Option {
	return func(c *Config) {
		if len(cmd) > 0 {
			c.Command = append([]byte(nil), cmd...)
		}
		c.ConfirmCommand = confirm
	}
}

// WithReadTimeout bounds each data packet read. Zero keeps the default.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadTimeout = d
		}
	}
}

// WithCapacity sets the slot table size.
func WithCapacity(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Capacity = n
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithProgress sets a progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(c *Config) {
		c.OnProgress = fn
	}
}
