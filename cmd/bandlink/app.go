package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tinygo.org/x/bluetooth"

	"bandlink/internal/ble"
	"bandlink/internal/bridge"
	"bandlink/internal/events"
	"bandlink/internal/metrics"
	"bandlink/internal/store"
	"bandlink/internal/transport"
	"bandlink/internal/web"
)

// app holds the services shared by every command.
type app struct {
	cfg     *Config
	logger  *slog.Logger
	bus     *events.Bus
	store   *store.BoltStore
	metrics *metrics.Metrics
	mqtt    *mqttStopper
	web     *web.Server
	http    *http.Server
	unsubs  []func()

	// dial opens the transport. Replaced in tests.
	dial func(ctx context.Context) (transport.Link, error)
}

// newApp opens the store and starts the optional MQTT bridge and web monitor.
func newApp(cfg *Config, logger *slog.Logger) (*app, error) {
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     events.NewBus(logger),
		store:   db,
		metrics: metrics.New(),
	}
	a.dial = a.connect
	a.unsubs = append(a.unsubs,
		store.Record(a.bus, db, logger),
		a.metrics.Observe(a.bus),
	)

	a.mqtt = initMQTT(a.bus, cfg, logger)

	if cfg.Web.Listen != "" {
		opts := []web.ServerOption{
			web.WithMetrics(a.metrics.Handler()),
			web.WithVersion(version),
		}
		if cfg.Web.APIKey != "" {
			opts = append(opts, web.WithAPIKey(cfg.Web.APIKey))
		}
		if len(cfg.Web.AllowedOrigins) > 0 {
			opts = append(opts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
		}
		a.web = web.NewServer(db, a.bus, logger, opts...)
		a.http = &http.Server{
			Addr:         cfg.Web.Listen,
			Handler:      a.web,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("web server starting", "addr", cfg.Web.Listen)
			if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server", "err", err)
			}
		}()
	}
	return a, nil
}

// close stops everything newApp started, in reverse order.
func (a *app) close() {
	if a.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.http.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown", "err", err)
		}
		cancel()
	}
	if a.web != nil {
		a.web.Stop()
	}
	a.mqtt.Stop()
	for _, off := range a.unsubs {
		off()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", "err", err)
	}
}

// connect opens the configured transport backend.
func (a *app) connect(ctx context.Context) (transport.Link, error) {
	switch a.cfg.Transport.Backend {
	case "ble":
		ctx, cancel := context.WithTimeout(ctx, duration(a.cfg.Transport.Connect))
		defer cancel()
		a.logger.Info("using BLE adapter", "device", a.cfg.Transport.Device)
		return ble.Connect(ctx, bluetooth.DefaultAdapter, a.cfg.Transport.Device, a.logger)
	case "bridge":
		a.logger.Info("using bridge dongle", "port", a.cfg.Transport.Port, "baud", a.cfg.Transport.Baud)
		return bridge.Open(a.cfg.Transport.Port, a.cfg.Transport.Baud, a.logger)
	default:
		return nil, fmt.Errorf("unknown transport backend: %q (supported: ble, bridge)", a.cfg.Transport.Backend)
	}
}

// deviceName labels transfers in the store and on MQTT.
func (a *app) deviceName() string {
	if a.cfg.Transport.Backend == "bridge" {
		return a.cfg.Transport.Port
	}
	return a.cfg.Transport.Device
}
