package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SensorTypeReal       = "real"
	SensorTypeSimulation = "simulation"

	KindABP   = "abp"
	KindHX711 = "hx711"

	OutputConsole    = "console"
	OutputMQTT       = "mqtt"
	OutputPrometheus = "prometheus"
	OutputModbus     = "modbus"
)

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty" yaml:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" yaml:"discovery_unique_id,omitempty"`
}

type PrometheusConfig struct {
	Listen string `json:"listen" yaml:"listen"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

type ModbusConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	UnitID    uint8  `json:"unit_id" yaml:"unit_id"`
	Address   uint16 `json:"address" yaml:"address"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

type OutputConfig struct {
	Type       string            `json:"type" yaml:"type"`
	IntervalMs int               `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig       `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Prometheus *PrometheusConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
	Modbus     *ModbusConfig     `json:"modbus,omitempty" yaml:"modbus,omitempty"`
}

type I2CConfig struct {
	Bus string `json:"bus" yaml:"bus"`
}

type SPIConfig struct {
	Port    string `json:"port" yaml:"port"`
	SpeedHz int    `json:"speed_hz,omitempty" yaml:"speed_hz,omitempty"`
}

// CalibrationConfig overrides the transfer function derived from the part
// number.
type CalibrationConfig struct {
	MinCode     int     `json:"min_code" yaml:"min_code"`
	MaxCode     int     `json:"max_code" yaml:"max_code"`
	MinPhysical float64 `json:"min_physical" yaml:"min_physical"`
	MaxPhysical float64 `json:"max_physical" yaml:"max_physical"`
}

type ABPConfig struct {
	PartNumber string `json:"part_number" yaml:"part_number"`
	// Address overrides the I²C address encoded in the part number.
	Address     int                `json:"address,omitempty" yaml:"address,omitempty"`
	Calibration *CalibrationConfig `json:"calibration,omitempty" yaml:"calibration,omitempty"`
	// Unit names the calibrated unit when Calibration is set.
	Unit        string `json:"unit,omitempty" yaml:"unit,omitempty"`
	StalePolicy string `json:"stale_policy,omitempty" yaml:"stale_policy,omitempty"`
}

type HX711Config struct {
	ClockPin       string  `json:"clock_pin" yaml:"clock_pin"`
	DataPin        string  `json:"data_pin" yaml:"data_pin"`
	GPIODriver     string  `json:"gpio_driver,omitempty" yaml:"gpio_driver,omitempty"`
	Channel        string  `json:"channel,omitempty" yaml:"channel,omitempty"`
	Gain           int     `json:"gain,omitempty" yaml:"gain,omitempty"`
	Scale          float64 `json:"scale" yaml:"scale"`
	Offset         int32   `json:"offset,omitempty" yaml:"offset,omitempty"`
	Unit           string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	TareOnStart    bool    `json:"tare_on_start,omitempty" yaml:"tare_on_start,omitempty"`
	ReadyTimeoutMs int     `json:"ready_timeout_ms,omitempty" yaml:"ready_timeout_ms,omitempty"`
	RateSPS        int     `json:"rate_sps,omitempty" yaml:"rate_sps,omitempty"`
}

type SensorConfig struct {
	Name    string       `json:"name" yaml:"name"`
	Type    string       `json:"type" yaml:"type"`
	Enabled bool         `json:"enabled" yaml:"enabled"`
	ABP     *ABPConfig   `json:"abp,omitempty" yaml:"abp,omitempty"`
	HX711   *HX711Config `json:"hx711,omitempty" yaml:"hx711,omitempty"`
}

type Config struct {
	SensorType string         `json:"sensor_type" yaml:"sensor_type"`
	IntervalMs int            `json:"interval_ms" yaml:"interval_ms"`
	LogLevel   string         `json:"log_level" yaml:"log_level"`
	I2C        I2CConfig      `json:"i2c" yaml:"i2c"`
	SPI        SPIConfig      `json:"spi" yaml:"spi"`
	Sensors    []SensorConfig `json:"sensors" yaml:"sensors"`
	Outputs    []OutputConfig `json:"outputs" yaml:"outputs"`
}

func DefaultConfig() Config {
	return Config{
		SensorType: SensorTypeReal,
		IntervalMs: 1000,
		LogLevel:   "info",
		I2C:        I2CConfig{Bus: "1"},
		Outputs:    []OutputConfig{{Type: OutputConsole, IntervalMs: 1000}},
	}
}

// EnabledSensors returns the sensors marked enabled, in configuration order.
func (c Config) EnabledSensors() []SensorConfig {
	out := make([]SensorConfig, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// LoadFile reads a JSON or YAML (.yaml, .yml) file over cfg.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

// LoadFromFlags loads configuration from a config file (optional) and the
// command line. Flags override values present in the file.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load is LoadFromFlags over an explicit argument list.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("bridgesense", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagSPIPort := fs.String("spi-port", "", "SPI port (e.g., '0.0' -> /dev/spidev0.0)")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagInterval := fs.Int("interval-ms", -1, "Default publish interval in ms")
	flagLogLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,prometheus,modbus)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, %s is replaced by the sensor name")
	flagPromListen := fs.String("prometheus-listen", "", "Prometheus exporter address (e.g. :9120)")
	flagModbusEndpoint := fs.String("modbus-endpoint", "", "Modbus TCP endpoint host:port")
	flagABPPart := fs.String("abp-part", "", "Add an ABP pressure sensor by part number")
	flagHX711Pins := fs.String("hx711-pins", "", "Add an HX711 load cell as clock,data pin names")
	flagScales := fs.String("scales", "", "Comma-separated HX711 scales per sensor e.g. scale=0.0042")
	flagOffsets := fs.String("offsets", "", "Comma-separated HX711 raw offsets per sensor e.g. scale=-81234")
	flagCalibration := fs.Float64("calibration", math.NaN(), "Scale applied to every HX711 sensor without one")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := LoadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagI2CBus != "" {
		cfg.I2C.Bus = *flagI2CBus
	}
	if *flagSPIPort != "" {
		cfg.SPI.Port = *flagSPIPort
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagABPPart != "" {
		cfg.Sensors = append(cfg.Sensors, SensorConfig{
			Name:    "pressure",
			Type:    KindABP,
			Enabled: true,
			ABP:     &ABPConfig{PartNumber: *flagABPPart},
		})
	}
	if *flagHX711Pins != "" {
		pins := parseCSV(*flagHX711Pins)
		if len(pins) != 2 {
			return cfg, fmt.Errorf("hx711-pins: want clock,data got %q", *flagHX711Pins)
		}
		cfg.Sensors = append(cfg.Sensors, SensorConfig{
			Name:    "scale",
			Type:    KindHX711,
			Enabled: true,
			HX711:   &HX711Config{ClockPin: pins[0], DataPin: pins[1]},
		})
	}
	scales, err := parseKeyFloatMap(*flagScales)
	if err != nil {
		return cfg, fmt.Errorf("scales: %w", err)
	}
	offsets, err := parseKeyIntMap(*flagOffsets)
	if err != nil {
		return cfg, fmt.Errorf("offsets: %w", err)
	}
	for i := range cfg.Sensors {
		s := &cfg.Sensors[i]
		if s.HX711 == nil {
			continue
		}
		if v, ok := scales[s.Name]; ok {
			s.HX711.Scale = v
		} else if s.HX711.Scale == 0 && !math.IsNaN(*flagCalibration) {
			s.HX711.Scale = *flagCalibration
		}
		if v, ok := offsets[s.Name]; ok {
			s.HX711.Offset = int32(v)
		}
	}

	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	outIntervals, err := parseKeyIntMap(*flagOutputIntervals)
	if err != nil {
		return cfg, fmt.Errorf("output-intervals: %w", err)
	}
	for i := range cfg.Outputs {
		if v, ok := outIntervals[cfg.Outputs[i].Type]; ok {
			cfg.Outputs[i].IntervalMs = v
		}
	}

	// map mqtt flags into every mqtt output, creating one if missing
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		m := output(&cfg, OutputMQTT)
		if m.MQTT == nil {
			m.MQTT = &MQTTConfig{}
		}
		setIf(&m.MQTT.Server, *flagMQTTServer)
		setIf(&m.MQTT.Username, *flagMQTTUser)
		setIf(&m.MQTT.Password, *flagMQTTPass)
		setIf(&m.MQTT.ClientID, *flagClientID)
		setIf(&m.MQTT.StateTopic, *flagTopic)
	}
	if *flagPromListen != "" {
		p := output(&cfg, OutputPrometheus)
		if p.Prometheus == nil {
			p.Prometheus = &PrometheusConfig{}
		}
		p.Prometheus.Listen = *flagPromListen
	}
	if *flagModbusEndpoint != "" {
		m := output(&cfg, OutputModbus)
		if m.Modbus == nil {
			m.Modbus = &ModbusConfig{UnitID: 1}
		}
		m.Modbus.Endpoint = *flagModbusEndpoint
	}

	Normalize(&cfg)
	return cfg, nil
}

// output returns the first output of type typ, appending one if needed.
func output(cfg *Config, typ string) *OutputConfig {
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == typ {
			return &cfg.Outputs[i]
		}
	}
	cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: typ})
	return &cfg.Outputs[len(cfg.Outputs)-1]
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseIntOrHex(s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	return strconv.Atoi(s)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseKeyValues(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry '%s', want key=value", p)
		}
		k := strings.TrimSpace(kv[0])
		if k == "" {
			return nil, fmt.Errorf("empty key in '%s'", p)
		}
		out[k] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[string]int, error) {
	kvs, err := parseKeyValues(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(kvs))
	for k, v := range kvs {
		n, err := parseIntOrHex(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for '%s': %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func parseKeyFloatMap(s string) (map[string]float64, error) {
	kvs, err := parseKeyValues(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(kvs))
	for k, v := range kvs {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for '%s': %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}
