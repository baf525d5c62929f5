package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
	"github.com/sirupsen/logrus"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "bridgesense-client"
	DefaultStateTopic = "bridgesense/%s"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplateFmt       = "{{ value_json.%s }}"
)

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	log        *logrus.Entry
}

// NewMQTT connects to the broker and publishes the Home Assistant discovery
// payloads of the given sensors when a discovery topic is configured.
func NewMQTT(cfg config.MQTTConfig, sensors []config.SensorConfig) (output.Output, error) {
	applyDefaults(&cfg)
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newWithClient(client, cfg, sensors), nil
}

func applyDefaults(cfg *config.MQTTConfig) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}
}

func newWithClient(client mqtt.Client, cfg config.MQTTConfig, sensors []config.SensorConfig) *MQTTOutput {
	m := &MQTTOutput{
		client:     client,
		stateTopic: cfg.StateTopic,
		log:        logrus.WithFields(logrus.Fields{"output": "mqtt", "server": cfg.Server}),
	}
	if cfg.DiscoveryTopic != "" {
		m.publishDiscovery(cfg, sensors)
	}
	return m
}

func (m *MQTTOutput) publishDiscovery(cfg config.MQTTConfig, sensors []config.SensorConfig) {
	perEntity := strings.Contains(cfg.DiscoveryTopic, "%s")
	for _, sc := range sensors {
		if !sc.Enabled {
			continue
		}
		ms, err := sensor.Measurements(sc)
		if err != nil {
			m.log.WithError(err).WithField("sensor", sc.Name).Warn("skipping discovery")
			continue
		}
		for _, meas := range ms {
			entity := sc.Name + "_" + meas.Kind
			topic := cfg.DiscoveryTopic
			if perEntity {
				topic = fmt.Sprintf(topic, entity)
			}
			payload := baseDiscoveryPayload(discoveryName(cfg, sc.Name, meas.Kind), formatStateTopic(cfg.StateTopic, sc.Name), discoveryUniqueID(cfg, entity), meas)
			if err := m.publishJSON(topic, true, payload); err != nil {
				m.log.WithError(err).WithField("topic", topic).Error("discovery publish failed")
			}
			if !perEntity {
				// a fixed topic only holds one entity
				return
			}
		}
	}
}

// Publish sends one JSON document per sensor to its state topic. Every kind
// the sensor reported becomes a field holding its value.
func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	var order []string
	docs := map[string]map[string]interface{}{}
	for _, r := range readings {
		doc, ok := docs[r.Sensor]
		if !ok {
			doc = map[string]interface{}{"raw": r.Raw, "unit": r.Unit, "stale": r.Stale, "timestamp": r.Timestamp}
			docs[r.Sensor] = doc
			order = append(order, r.Sensor)
		}
		doc[r.Kind] = r.Value
		if r.Stale {
			doc["stale"] = true
		}
	}
	for _, name := range order {
		if err := m.publishJSON(formatStateTopic(m.stateTopic, name), false, docs[name]); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", name, err)
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

// helper: format a state topic for a sensor using an optional formatter
func formatStateTopic(base, name string) string {
	if base == "" {
		base = DefaultStateTopic
	}
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, name)
	}
	return base
}

func discoveryName(cfg config.MQTTConfig, name, kind string) string {
	prefix := cfg.DiscoveryName
	if prefix == "" {
		prefix = cfg.ClientID
	}
	return fmt.Sprintf("%s %s %s", prefix, name, kind)
}

func discoveryUniqueID(cfg config.MQTTConfig, entity string) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return uid + "_" + entity
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string, m sensor.Measurement) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   m.Unit,
		keyDeviceClass:         m.Kind,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf(valueTemplateFmt, m.Kind),
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func (m *MQTTOutput) publishJSON(topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.PublishRaw(topic, b, retained)
}
