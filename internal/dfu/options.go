package dfu

import (
	"io"
	"log/slog"
	"time"

	"bandlink/internal/protocol"
)

// Progress is reported after every state change and every packet.
type Progress struct {
	State      State
	BytesSent  uint32
	TotalBytes uint32
	Packets    int
	Percentage float64
	Elapsed    time.Duration
}

// ProgressFunc receives Progress updates. It runs on the session goroutine and
// should return quickly.
type ProgressFunc func(Progress)

// Config holds the session settings.
type Config struct {
	Profile    Profile
	Logger     *slog.Logger
	OnProgress ProgressFunc

	// PacketNotificationInterval requests a receipt every N packets. Zero disables it.
	PacketNotificationInterval uint16

	// ResponseTimeout bounds every control point read.
	ResponseTimeout time.Duration

	// SettleDelay is slept between VALIDATE and ACTIVATE.
	SettleDelay time.Duration

	PacketSize int
}

func defaultConfig() Config {
	return Config{
		Profile:         ProfileCRC16,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		ResponseTimeout: 10 * time.Second,
		SettleDelay:     time.Second,
		PacketSize:      protocol.PacketSize,
	}
}

// Option configures a Session.
type Option func(*Config)

// WithProfile selects the bootloader protocol version.
func WithProfile(p Profile) Option {
	return func(c *Config) {
		if p.InitPayload != nil {
			c.Profile = p
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
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) {
		c.OnProgress = fn
	}
}

// WithPacketNotificationInterval asks the device for a receipt every n packets.
func WithPacketNotificationInterval(n uint16) Option {
	return func(c *Config) {
		c.PacketNotificationInterval = n
	}
}

// WithResponseTimeout bounds each control point read. Zero keeps the default.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ResponseTimeout = d
		}
	}
}

// WithSettleDelay sets the pause before ACTIVATE_FIRMWARE_AND_RESET.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SettleDelay = d
		}
	}
}

// WithPacketSize overrides the data packet size.
func WithPacketSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PacketSize = n
		}
	}
}
