//go:build !no_mqtt

// Package mqtt mirrors transfer events to an MQTT broker with Home Assistant
// autodiscovery for each band that was flashed or synced.
package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"bandlink/internal/events"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// publisher is the subset of pahomqtt.Client the bridge needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge publishes transfer events to MQTT.
type Bridge struct {
	client publisher
	prefix string
	logger *slog.Logger
	unsub  func()

	mu         sync.Mutex
	devices    map[string]string         // transfer ID -> device
	states     map[string]map[string]any // device -> property map
	discovered map[string]bool
	pending    sync.WaitGroup
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bandlink"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	// Assigned before Connect so the OnConnect handler can publish.
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		prefix:     prefix,
		logger:     logger.With("component", "mqtt"),
		devices:    make(map[string]string),
		states:     make(map[string]map[string]any),
		discovered: make(map[string]bool),
	}
}

// Start subscribes to bus and begins MQTT publishing.
func (b *Bridge) Start(bus *events.Bus) {
	b.unsub = bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop unsubscribes, waits for in-flight publishes, publishes offline state
// and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.pending.Wait()
	b.publishBridgeState("offline")
	b.pending.Wait()
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event events.Event) {
	switch d := event.Data.(type) {
	case events.Started:
		b.mu.Lock()
		b.devices[d.ID] = d.Device
		b.mu.Unlock()
		b.publishDiscovery(d.Device)
		b.updateAndPublishState(d.ID, map[string]any{
			d.Kind + "_state":    "started",
			d.Kind + "_transfer": d.ID,
		})
	case events.StateChange:
		b.updateAndPublishState(d.ID, map[string]any{d.Kind + "_state": d.State})
	case events.Progress:
		b.publish(b.transferTopic(d.ID, "progress"), mustJSON(d), false)
		if d.Kind == events.KindDFU {
			b.updateAndPublishState(d.ID, map[string]any{"dfu_progress": roundPercent(d.Percentage)})
		}
	case events.Integrity:
		b.updateAndPublishState(d.ID, map[string]any{"sync_verified": d.Verified})
	case events.Finished:
		props := map[string]any{d.Kind + "_state": d.State}
		switch d.Kind {
		case events.KindSync:
			props["sync_bytes"] = d.Bytes
		case events.KindDFU:
			if d.Error == "" {
				props["dfu_progress"] = 100.0
			}
		}
		if d.Error != "" {
			props[d.Kind+"_error"] = d.Error
		}
		b.updateAndPublishState(d.ID, props)
		b.publish(b.transferTopic(d.ID, "result"), mustJSON(d), true)

		b.mu.Lock()
		delete(b.devices, d.ID)
		b.mu.Unlock()
	case events.Removed:
		b.RemoveDevice(d.Device)
	}
}

func (b *Bridge) updateAndPublishState(id string, props map[string]any) {
	b.mu.Lock()
	device, ok := b.devices[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	state, ok := b.states[device]
	if !ok {
		state = make(map[string]any)
		b.states[device] = state
	}
	for k, v := range props {
		state[k] = v
	}
	state["last_seen"] = time.Now().Format(time.RFC3339)
	payload := mustJSON(state)
	b.mu.Unlock()

	b.publish(b.prefix+"/"+topicName(device), payload, true)
}

func (b *Bridge) publishDiscovery(device string) {
	b.mu.Lock()
	if b.discovered[device] {
		b.mu.Unlock()
		return
	}
	b.discovered[device] = true
	b.mu.Unlock()

	for _, msg := range buildDiscovery(device, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "device", device)
}

// RemoveDevice clears the retained discovery entries and state of a band.
func (b *Bridge) RemoveDevice(device string) {
	for _, msg := range buildRemoveDiscovery(device) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publish(b.prefix+"/"+topicName(device), []byte{}, true)
	b.logger.Info("removed HA discovery", "device", device)
	b.mu.Lock()
	delete(b.states, device)
	delete(b.discovered, device)
	b.mu.Unlock()
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) transferTopic(id, leaf string) string {
	return b.prefix + "/transfers/" + id + "/" + leaf
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func roundPercent(p float64) float64 {
	return float64(int(p*10+0.5)) / 10
}
