package config

import (
	"fmt"
	"strings"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/abp"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/hx711"
	"go.uber.org/multierr"
)

const (
	defaultPrometheusListen = ":9120"
	defaultPrometheusPath   = "/metrics"
	defaultModbusTimeoutMs  = 1000
	defaultHX711Rate        = 10
)

// Normalize fills defaults. It is applied by Load and may be called again
// after editing a Config by hand.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.SensorType = strings.ToLower(cfg.SensorType)
	for i := range cfg.Sensors {
		s := &cfg.Sensors[i]
		s.Type = strings.ToLower(s.Type)
		if s.ABP != nil && s.ABP.StalePolicy == "" {
			s.ABP.StalePolicy = "return"
		}
		if h := s.HX711; h != nil {
			if h.GPIODriver == "" {
				h.GPIODriver = "periph"
			}
			if h.Channel == "" {
				h.Channel = "A"
			}
			if h.Gain == 0 {
				h.Gain = 128
			}
			if h.Scale == 0 {
				h.Scale = 1
			}
			if h.RateSPS == 0 {
				h.RateSPS = defaultHX711Rate
			}
		}
	}
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		o.Type = strings.ToLower(o.Type)
		if o.IntervalMs == 0 {
			o.IntervalMs = cfg.IntervalMs
		}
		switch o.Type {
		case OutputPrometheus:
			if o.Prometheus == nil {
				o.Prometheus = &PrometheusConfig{}
			}
			if o.Prometheus.Listen == "" {
				o.Prometheus.Listen = defaultPrometheusListen
			}
			if o.Prometheus.Path == "" {
				o.Prometheus.Path = defaultPrometheusPath
			}
		case OutputModbus:
			if o.Modbus != nil && o.Modbus.TimeoutMs == 0 {
				o.Modbus.TimeoutMs = defaultModbusTimeoutMs
			}
		}
	}
}

// Validate reports every problem found in cfg.
func Validate(cfg Config) error {
	var err error
	if cfg.IntervalMs <= 0 {
		err = multierr.Append(err, fmt.Errorf("interval_ms must be > 0"))
	}
	switch cfg.SensorType {
	case SensorTypeReal, SensorTypeSimulation:
	default:
		err = multierr.Append(err, fmt.Errorf("sensor_type %q: want real or simulation", cfg.SensorType))
	}

	names := map[string]bool{}
	for i, s := range cfg.Sensors {
		if s.Name == "" {
			err = multierr.Append(err, fmt.Errorf("sensors[%d]: name required", i))
		} else if names[s.Name] {
			err = multierr.Append(err, fmt.Errorf("sensors[%d]: duplicate name %q", i, s.Name))
		}
		names[s.Name] = true
		err = multierr.Append(err, validateSensor(s))
	}
	err = multierr.Append(err, validateBusSharing(cfg.EnabledSensors()))

	for i, o := range cfg.Outputs {
		if o.IntervalMs <= 0 {
			err = multierr.Append(err, fmt.Errorf("outputs[%d]: interval_ms must be > 0", i))
		}
		switch o.Type {
		case OutputConsole, OutputPrometheus:
		case OutputMQTT:
			if o.MQTT == nil || o.MQTT.Server == "" {
				err = multierr.Append(err, fmt.Errorf("outputs[%d]: mqtt server required", i))
			}
		case OutputModbus:
			if o.Modbus == nil || o.Modbus.Endpoint == "" {
				err = multierr.Append(err, fmt.Errorf("outputs[%d]: modbus endpoint required", i))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("outputs[%d]: unknown type %q", i, o.Type))
		}
	}
	return err
}

func validateSensor(s SensorConfig) error {
	switch s.Type {
	case KindABP:
		if s.ABP == nil {
			return fmt.Errorf("sensor %q: abp section required", s.Name)
		}
		return validateABP(s.Name, s.ABP)
	case KindHX711:
		if s.HX711 == nil {
			return fmt.Errorf("sensor %q: hx711 section required", s.Name)
		}
		return validateHX711(s.Name, s.HX711)
	}
	return fmt.Errorf("sensor %q: unknown type %q", s.Name, s.Type)
}

func validateABP(name string, c *ABPConfig) error {
	var err error
	if c.PartNumber != "" {
		if _, perr := abp.ParsePartNumber(c.PartNumber); perr != nil {
			err = multierr.Append(err, fmt.Errorf("sensor %q: %w", name, perr))
		}
	} else if c.Calibration == nil {
		err = multierr.Append(err, fmt.Errorf("sensor %q: part_number or calibration required", name))
	}
	if cal := c.Calibration; cal != nil {
		if outOfCodeRange(cal.MinCode) || outOfCodeRange(cal.MaxCode) {
			err = multierr.Append(err, fmt.Errorf("sensor %q: calibration codes must be within 0..0x%X", name, abp.CodeMax))
		} else if cerr := cal.ABP().Validate(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("sensor %q: %w", name, cerr))
		}
	}
	if c.PartNumber == "" && c.Address == 0 {
		err = multierr.Append(err, fmt.Errorf("sensor %q: address required without part_number", name))
	}
	if c.Address < 0 || c.Address > 0x7F {
		err = multierr.Append(err, fmt.Errorf("sensor %q: i2c address 0x%X out of range", name, c.Address))
	}
	if _, perr := c.Policy(); perr != nil {
		err = multierr.Append(err, fmt.Errorf("sensor %q: %w", name, perr))
	}
	return err
}

func validateHX711(name string, c *HX711Config) error {
	var err error
	if c.ClockPin == "" || c.DataPin == "" {
		err = multierr.Append(err, fmt.Errorf("sensor %q: clock_pin and data_pin required", name))
	}
	switch c.GPIODriver {
	case "periph", "rpio":
	default:
		err = multierr.Append(err, fmt.Errorf("sensor %q: gpio_driver %q: want periph or rpio", name, c.GPIODriver))
	}
	ch, cerr := hx711.ParseChannel(c.Channel)
	if cerr != nil {
		err = multierr.Append(err, fmt.Errorf("sensor %q: %w", name, cerr))
	} else if gerr := hx711.CheckGain(ch, hx711.Gain(c.Gain)); gerr != nil {
		err = multierr.Append(err, fmt.Errorf("sensor %q: %w", name, gerr))
	}
	if c.RateSPS != 10 && c.RateSPS != 80 {
		err = multierr.Append(err, fmt.Errorf("sensor %q: rate_sps %d: want 10 or 80", name, c.RateSPS))
	}
	return err
}

// ABP converts the calibration override to driver form.
func (c CalibrationConfig) ABP() abp.Calibration {
	return abp.Calibration{
		MinCode:     uint16(c.MinCode),
		MaxCode:     uint16(c.MaxCode),
		MinPhysical: c.MinPhysical,
		MaxPhysical: c.MaxPhysical,
	}
}

// Policy returns the configured stale data policy.
func (c ABPConfig) Policy() (abp.StalePolicy, error) {
	switch strings.ToLower(c.StalePolicy) {
	case "", "return":
		return abp.StaleReturn, nil
	case "error":
		return abp.StaleError, nil
	}
	return 0, fmt.Errorf("stale_policy %q: want return or error", c.StalePolicy)
}

func outOfCodeRange(code int) bool {
	return code < 0 || code > abp.CodeMax
}

// validateBusSharing rejects pressure sensors that would end up talking to
// the same chip: a second part on the single SPI port, or two parts at one
// I²C address.
func validateBusSharing(sensors []SensorConfig) error {
	var (
		err      error
		spiOwner string
		i2cOwner = map[uint16]string{}
	)
	for _, s := range sensors {
		if s.Type != KindABP || s.ABP == nil {
			continue
		}
		iface, addr, terr := s.ABP.Target()
		if terr != nil {
			// reported by validateABP
			continue
		}
		if iface == abp.SPI {
			if spiOwner != "" {
				err = multierr.Append(err, fmt.Errorf("sensor %q: spi port already used by sensor %q", s.Name, spiOwner))
				continue
			}
			spiOwner = s.Name
			continue
		}
		if other, ok := i2cOwner[addr]; ok {
			err = multierr.Append(err, fmt.Errorf("sensor %q: i2c address 0x%02X already used by sensor %q", s.Name, addr, other))
			continue
		}
		i2cOwner[addr] = s.Name
	}
	return err
}

// Target returns the bus and 7 bit address the sensor answers on, taking the
// address override into account. The address is unused on SPI.
func (c ABPConfig) Target() (abp.Interface, uint16, error) {
	var (
		iface abp.Interface
		addr  uint16
	)
	if c.PartNumber != "" {
		p, err := abp.ParsePartNumber(c.PartNumber)
		if err != nil {
			return 0, 0, err
		}
		iface, addr = p.Interface, p.Addr
	}
	if c.Address != 0 {
		addr = uint16(c.Address)
	}
	return iface, addr, nil
}
