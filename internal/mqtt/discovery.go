//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/band_mi_band/dfu_state/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// topicName sanitizes an advertised device name for use in MQTT topics.
func topicName(device string) string {
	if device == "" {
		return "unknown"
	}
	name := strings.ToLower(device)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

func deviceIdentifier(device string) string {
	return "band_" + topicName(device)
}

// sensor describes one Home Assistant entity backed by the device state map.
type sensor struct {
	component   string
	objectID    string
	suffix      string
	deviceClass string
	unit        string
	stateClass  string
	template    string
}

var bandSensors = []sensor{
	{"sensor", "dfu_state", "Firmware Update", "", "", "", "{{ value_json.dfu_state }}"},
	{"sensor", "dfu_progress", "Firmware Progress", "", "%", "measurement", "{{ value_json.dfu_progress }}"},
	{"sensor", "sync_state", "Sensor Sync", "", "", "", "{{ value_json.sync_state }}"},
	{"sensor", "sync_bytes", "Sensor Sync Bytes", "data_size", "B", "measurement", "{{ value_json.sync_bytes }}"},
	{"binary_sensor", "sync_verified", "Sensor Sync Verified", "", "", "",
		"{{ 'ON' if value_json.sync_verified else 'OFF' }}"},
}

// buildDiscovery generates HA discovery messages for a band.
func buildDiscovery(device, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + topicName(device)
	nodeID := deviceIdentifier(device)

	haDev := haDevice{
		Identifiers: []string{nodeID},
		Model:       "Band",
		Name:        device,
	}

	msgs := make([]discoveryMsg, 0, len(bandSensors))
	for _, s := range bandSensors {
		payload := haDiscovery{
			Name:              device + " " + s.suffix,
			UniqueID:          nodeID + "_" + s.objectID,
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     s.template,
			UnitOfMeasurement: s.unit,
			DeviceClass:       s.deviceClass,
			StateClass:        s.stateClass,
			Device:            haDev,
		}
		if s.component == "binary_sensor" {
			payload.PayloadOn = "ON"
			payload.PayloadOff = "OFF"
		}
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", s.component, nodeID, s.objectID),
			Payload: mustJSON(payload),
		})
	}
	return msgs
}

// buildRemoveDiscovery generates empty retained messages to remove a band from HA.
func buildRemoveDiscovery(device string) []discoveryMsg {
	nodeID := deviceIdentifier(device)
	msgs := make([]discoveryMsg, 0, len(bandSensors))
	for _, s := range bandSensors {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/%s/%s/%s/config", s.component, nodeID, s.objectID),
		})
	}
	return msgs
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
