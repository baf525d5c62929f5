package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	retained bool
	payload  map[string]interface{}
}

// fakeClient records publishes. Methods the output does not use are left to
// the embedded nil interface.
type fakeClient struct {
	mqtt.Client
	published    []message
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var m map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &m)
	c.published = append(c.published, message{topic: topic, retained: retained, payload: m})
	return doneToken{err: c.err}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

var sensors = []config.SensorConfig{
	{Name: "tank", Type: config.KindABP, Enabled: true, ABP: &config.ABPConfig{PartNumber: "ABPDNNN060MD0D3"}},
	{Name: "scale", Type: config.KindHX711, Enabled: true, HX711: &config.HX711Config{Unit: "kg"}},
	{Name: "spare", Type: config.KindHX711, Enabled: false, HX711: &config.HX711Config{}},
}

func TestDiscoveryPerEntity(t *testing.T) {
	c := &fakeClient{}
	cfg := config.MQTTConfig{ClientID: "bridge", StateTopic: DefaultStateTopic, DiscoveryTopic: "homeassistant/sensor/%s/config"}
	newWithClient(c, cfg, sensors)
	if len(c.published) != 3 {
		t.Fatalf("got %d discovery messages want 3", len(c.published))
	}
	tests := []struct {
		topic, class, unit, uid string
	}{
		{"homeassistant/sensor/tank_pressure/config", "pressure", "mbar", "bridge_tank_pressure"},
		{"homeassistant/sensor/tank_temperature/config", "temperature", "°C", "bridge_tank_temperature"},
		{"homeassistant/sensor/scale_weight/config", "weight", "kg", "bridge_scale_weight"},
	}
	for i, tt := range tests {
		m := c.published[i]
		if m.topic != tt.topic || !m.retained {
			t.Fatalf("message %d: topic=%s retained=%v", i, m.topic, m.retained)
		}
		if m.payload[keyDeviceClass] != tt.class || m.payload[keyUnitOfMeasurement] != tt.unit || m.payload[keyUniqueID] != tt.uid {
			t.Fatalf("message %d payload: %v", i, m.payload)
		}
	}
	if got := c.published[0].payload[keyStateTopic]; got != "bridgesense/tank" {
		t.Fatalf("state topic: %v", got)
	}
	if got := c.published[1].payload[keyValueTemplate]; got != "{{ value_json.temperature }}" {
		t.Fatalf("value template: %v", got)
	}
}

func TestDiscoveryFixedTopic(t *testing.T) {
	c := &fakeClient{}
	newWithClient(c, config.MQTTConfig{StateTopic: "plant/state", DiscoveryTopic: "homeassistant/sensor/plant/config"}, sensors)
	if len(c.published) != 1 {
		t.Fatalf("got %d discovery messages want 1", len(c.published))
	}
}

func TestPublishGroupsBySensor(t *testing.T) {
	c := &fakeClient{}
	m := newWithClient(c, config.MQTTConfig{StateTopic: DefaultStateTopic}, nil)
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	err := m.Publish([]sensor.Reading{
		{Sensor: "tank", Kind: sensor.KindPressure, Raw: 8000, Value: 12.5, Unit: "mbar", Timestamp: ts},
		{Sensor: "tank", Kind: sensor.KindTemperature, Value: 21.25, Unit: "°C", Stale: true, Timestamp: ts},
		{Sensor: "scale", Kind: sensor.KindWeight, Raw: -42, Value: 0.5, Unit: "kg", Timestamp: ts},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(c.published) != 2 {
		t.Fatalf("got %d messages want 2", len(c.published))
	}
	tank := c.published[0]
	if tank.topic != "bridgesense/tank" || tank.retained {
		t.Fatalf("tank topic=%s retained=%v", tank.topic, tank.retained)
	}
	if tank.payload["pressure"] != 12.5 || tank.payload["temperature"] != 21.25 || tank.payload["raw"] != float64(8000) || tank.payload["stale"] != true {
		t.Fatalf("tank payload: %v", tank.payload)
	}
	scale := c.published[1]
	if scale.topic != "bridgesense/scale" || scale.payload["weight"] != 0.5 || scale.payload["raw"] != float64(-42) || scale.payload["stale"] != false {
		t.Fatalf("scale message: %+v", scale)
	}
}

func TestPublishError(t *testing.T) {
	broken := errors.New("not connected")
	c := &fakeClient{err: broken}
	m := newWithClient(c, config.MQTTConfig{StateTopic: "fixed"}, nil)
	err := m.Publish([]sensor.Reading{{Sensor: "a", Kind: sensor.KindWeight}})
	if !errors.Is(err, broken) {
		t.Fatalf("got %v want %v", err, broken)
	}
	if err := m.Close(); err != nil || !c.disconnected {
		t.Fatalf("close: err=%v disconnected=%v", err, c.disconnected)
	}
}

func TestFormatStateTopic(t *testing.T) {
	tests := []struct{ base, name, want string }{
		{"", "tank", "bridgesense/tank"},
		{"plant/%s/state", "tank", "plant/tank/state"},
		{"plant/state", "tank", "plant/state"},
	}
	for _, tt := range tests {
		if got := formatStateTopic(tt.base, tt.name); got != tt.want {
			t.Errorf("formatStateTopic(%q, %q) = %q want %q", tt.base, tt.name, got, tt.want)
		}
	}
}

func TestPublishRaw(t *testing.T) {
	c := &fakeClient{}
	m := newWithClient(c, config.MQTTConfig{StateTopic: DefaultStateTopic}, nil)
	if err := m.PublishRaw("bridgesense/cmd", []byte(`{"tare":true}`), true); err != nil {
		t.Fatalf("PublishRaw: %v", err)
	}
	if len(c.published) != 1 || c.published[0].topic != "bridgesense/cmd" || !c.published[0].retained || c.published[0].payload["tare"] != true {
		t.Fatalf("published: %+v", c.published)
	}

	var unconnected MQTTOutput
	if err := unconnected.PublishRaw("x", nil, false); err == nil {
		t.Fatalf("expected error without a client")
	}
}
