package sensor

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/abp"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/bus"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/driver"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/hx711"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// New builds the sensors described by cfg: simulated ones when sensor_type
// is simulation, hardware otherwise.
func New(cfg config.Config) (Sensor, error) {
	if cfg.SensorType == config.SensorTypeSimulation {
		return NewFakeSensor(cfg)
	}
	return NewHardware(cfg)
}

// hardware opens shared buses lazily while sensors are built.
type hardware struct {
	cfg     config.Config
	i2c     driver.ByteBus
	spi     driver.ByteBus
	rpio    *bus.RPIOChip
	closers []io.Closer
}

// NewHardware initializes periph.io and opens every enabled sensor.
func NewHardware(cfg config.Config) (Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	h := &hardware{cfg: cfg}
	g := &Group{}
	for _, sc := range cfg.EnabledSensors() {
		s, err := h.open(sc)
		if err != nil {
			g.closers = h.closers
			return nil, multierr.Append(fmt.Errorf("sensor %q: %w", sc.Name, err), g.Close())
		}
		g.sensors = append(g.sensors, s)
	}
	g.closers = h.closers
	return g, nil
}

func (h *hardware) open(sc config.SensorConfig) (Sensor, error) {
	switch sc.Type {
	case config.KindABP:
		return h.openABP(sc)
	case config.KindHX711:
		return h.openHX711(sc)
	}
	return nil, fmt.Errorf("unknown sensor type %q", sc.Type)
}

func (h *hardware) openABP(sc config.SensorConfig) (Sensor, error) {
	opts, unit, iface, err := abpSettings(sc.ABP)
	if err != nil {
		return nil, err
	}
	b, err := h.byteBus(iface)
	if err != nil {
		return nil, err
	}
	dev, err := abp.New(b, bus.Delay{}, opts)
	if err != nil {
		return nil, err
	}
	return NewABPSensor(sc.Name, dev, unit, opts.Temperature), nil
}

// byteBus returns the shared bus for iface, opening it on first use.
func (h *hardware) byteBus(iface abp.Interface) (driver.ByteBus, error) {
	if iface == abp.SPI {
		if h.spi == nil {
			p, err := spireg.Open(h.cfg.SPI.Port)
			if err != nil {
				return nil, fmt.Errorf("open spi: %w", err)
			}
			h.closers = append(h.closers, p)
			c, err := bus.NewSPI(p, physic.Frequency(h.cfg.SPI.SpeedHz)*physic.Hertz)
			if err != nil {
				return nil, err
			}
			h.spi = bus.NewShared(c)
		}
		return h.spi, nil
	}
	if h.i2c == nil {
		b, err := i2creg.Open(h.cfg.I2C.Bus)
		if err != nil {
			return nil, fmt.Errorf("open i2c: %w", err)
		}
		h.closers = append(h.closers, b)
		h.i2c = bus.NewShared(bus.NewI2C(b))
	}
	return h.i2c, nil
}

func (h *hardware) openHX711(sc config.SensorConfig) (Sensor, error) {
	c := sc.HX711
	bb, err := h.bitBus(c)
	if err != nil {
		return nil, err
	}
	ch, err := hx711.ParseChannel(c.Channel)
	if err != nil {
		return nil, err
	}
	dev, err := hx711.New(bb, bus.Delay{}, &hx711.Opts{
		Channel:      ch,
		Gain:         hx711.Gain(c.Gain),
		Scale:        c.Scale,
		Offset:       c.Offset,
		ReadyTimeout: time.Duration(c.ReadyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	s := NewHX711Sensor(sc.Name, dev, weightUnit(c))
	if c.TareOnStart {
		if err := s.Tare(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (h *hardware) bitBus(c *config.HX711Config) (driver.BitBus, error) {
	if c.GPIODriver != "rpio" {
		return bus.OpenGPIO(c.ClockPin, c.DataPin)
	}
	clk, err := strconv.Atoi(c.ClockPin)
	if err != nil {
		return nil, fmt.Errorf("clock_pin %q: rpio needs a BCM number", c.ClockPin)
	}
	data, err := strconv.Atoi(c.DataPin)
	if err != nil {
		return nil, fmt.Errorf("data_pin %q: rpio needs a BCM number", c.DataPin)
	}
	if h.rpio == nil {
		chip, err := bus.OpenRPIOChip()
		if err != nil {
			return nil, err
		}
		h.rpio = chip
		h.closers = append(h.closers, chip)
	}
	return h.rpio.Pins(clk, data), nil
}
