package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bandlink/internal/dfu"
	"bandlink/internal/sensorsync"
)

type Config struct {
	Transport struct {
		Backend string `yaml:"backend"` // "ble" or "bridge"
		Device  string `yaml:"device"`  // advertised name (ble)
		Port    string `yaml:"port"`    // serial port (bridge)
		Baud    int    `yaml:"baud"`
		Connect string `yaml:"connect_timeout"`
	} `yaml:"transport"`
	DFU struct {
		Profile         string `yaml:"profile"` // "crc16" or "sha1"
		PRN             uint16 `yaml:"packet_notification_interval"`
		ResponseTimeout string `yaml:"response_timeout"`
		SettleDelay     string `yaml:"settle_delay"`
		FinalResponse   bool   `yaml:"final_response"` // read end-of-image response with receipts on
	} `yaml:"dfu"`
	Sync struct {
		Format         string `yaml:"header_format"` // "packet_count" or "byte_count"
		Capacity       int    `yaml:"capacity"`
		ReadTimeout    string `yaml:"read_timeout"`
		Command        string `yaml:"command"` // hex
		ConfirmCommand bool   `yaml:"confirm_command"`
	} `yaml:"sync"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"` // empty disables the monitor
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	switch c.Transport.Backend {
	case "ble", "bridge":
	default:
		return fmt.Errorf("transport.backend must be ble or bridge, got %q", c.Transport.Backend)
	}
	if _, err := dfu.ParseProfile(c.DFU.Profile); err != nil {
		return fmt.Errorf("dfu.profile: %w", err)
	}
	if _, err := sensorsync.ParseHeaderFormat(c.Sync.Format); err != nil {
		return fmt.Errorf("sync.header_format: %w", err)
	}
	if c.Sync.Capacity < 1 || c.Sync.Capacity > sensorsync.DefaultCapacity {
		return fmt.Errorf("sync.capacity must be 1-%d, got %d", sensorsync.DefaultCapacity, c.Sync.Capacity)
	}
	if _, err := c.syncCommand(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"transport.connect_timeout": c.Transport.Connect,
		"dfu.response_timeout":      c.DFU.ResponseTimeout,
		"dfu.settle_delay":          c.DFU.SettleDelay,
		"sync.read_timeout":         c.Sync.ReadTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// validateTransport checks the settings needed to reach a device. Commands
// that only read the store skip it.
func (c *Config) validateTransport() error {
	switch c.Transport.Backend {
	case "ble":
		if c.Transport.Device == "" {
			return fmt.Errorf("transport.device is required for the ble backend")
		}
	case "bridge":
		if c.Transport.Port == "" {
			return fmt.Errorf("transport.port is required for the bridge backend")
		}
	}
	return nil
}

// syncCommand decodes sync.command.
func (c *Config) syncCommand() ([]byte, error) {
	cmd, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(c.Sync.Command, " ", ""), "0x"))
	if err != nil {
		return nil, fmt.Errorf("sync.command: %w", err)
	}
	if len(cmd) == 0 {
		return nil, fmt.Errorf("sync.command must not be empty")
	}
	return cmd, nil
}

// duration parses a value already checked by validate.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// loadConfig reads path and fills defaults. A missing file yields the
// defaults when optional is set.
func loadConfig(path string, optional bool) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Transport.Backend == "" {
		c.Transport.Backend = "ble"
	}
	if c.Transport.Baud == 0 {
		c.Transport.Baud = 115200
	}
	if c.Transport.Connect == "" {
		c.Transport.Connect = "30s"
	}
	if c.DFU.Profile == "" {
		c.DFU.Profile = dfu.ProfileCRC16.Name
	}
	if c.DFU.ResponseTimeout == "" {
		c.DFU.ResponseTimeout = "10s"
	}
	if c.DFU.SettleDelay == "" {
		c.DFU.SettleDelay = "1s"
	}
	if c.Sync.Format == "" {
		c.Sync.Format = sensorsync.HeaderPacketCount.String()
	}
	if c.Sync.Capacity == 0 {
		c.Sync.Capacity = sensorsync.DefaultCapacity
	}
	if c.Sync.ReadTimeout == "" {
		c.Sync.ReadTimeout = "10s"
	}
	if c.Sync.Command == "" {
		c.Sync.Command = "02"
	}
	if c.Store.Path == "" {
		c.Store.Path = "bandlink.db"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "bandlink"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
