package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bandlink.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.Backend != "ble" || cfg.DFU.Profile != "crc16" || cfg.Sync.Format != "packet_count" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Sync.Capacity != 256 || cfg.Sync.Command != "02" || cfg.Store.Path != "bandlink.db" {
		t.Errorf("sync/store defaults = %+v %+v", cfg.Sync, cfg.Store)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
	if err := cfg.validateTransport(); err == nil {
		t.Error("ble without device should fail transport validation")
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error for explicitly named missing file")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
transport:
  backend: bridge
  port: /dev/ttyACM0
dfu:
  profile: sha1
  packet_notification_interval: 10
sync:
  header_format: byte_count
  command: "0x02 01"
  confirm_command: true
log:
  level: debug
  format: json
`)
	cfg, err := loadConfig(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if err := cfg.validateTransport(); err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.Baud != 115200 || cfg.DFU.PRN != 10 || !cfg.Sync.ConfirmCommand {
		t.Errorf("cfg = %+v", cfg)
	}
	cmd, err := cfg.syncCommand()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(cmd, []byte{0x02, 0x01}) {
		t.Errorf("sync command = %X", cmd)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Transport.Backend = "usb" }, "transport.backend"},
		{"profile", func(c *Config) { c.DFU.Profile = "md5" }, "dfu.profile"},
		{"format", func(c *Config) { c.Sync.Format = "words" }, "sync.header_format"},
		{"capacity", func(c *Config) { c.Sync.Capacity = 300 }, "sync.capacity"},
		{"command", func(c *Config) { c.Sync.Command = "zz" }, "sync.command"},
		{"timeout", func(c *Config) { c.Sync.ReadTimeout = "soon" }, "sync.read_timeout"},
		{"mqtt", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(filepath.Join(t.TempDir(), "none.yaml"), true)
			if err != nil {
				t.Fatal(err)
			}
			tt.modify(cfg)
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		debug         bool
		json          bool
	}{
		{"debug", "text", true, false},
		{"info", "json", false, true},
		{"WARN", "", false, false},
		{"bogus", "text", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var cfg Config
			cfg.Log.Level = tt.level
			cfg.Log.Format = tt.format
			var buf bytes.Buffer
			logger := newLogger(&cfg, &buf)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debug {
				t.Errorf("debug enabled = %v, want %v", got, tt.debug)
			}
			logger.Error("hello")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.json {
				t.Errorf("json output = %v, want %v: %q", got, tt.json, buf.String())
			}
		})
	}
}
