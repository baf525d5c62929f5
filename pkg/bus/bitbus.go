package bus

import (
	"fmt"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/driver"
	rpio "github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// GPIO is a driver.BitBus over two periph.io pins.
type GPIO struct {
	clk  gpio.PinOut
	data gpio.PinIn
}

// NewGPIO configures data as a floating input and drives clk low.
func NewGPIO(clk gpio.PinOut, data gpio.PinIn) (*GPIO, error) {
	if err := data.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("data pin %s: %w", data, err)
	}
	if err := clk.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("clock pin %s: %w", clk, err)
	}
	return &GPIO{clk: clk, data: data}, nil
}

// OpenGPIO looks both pins up by name in the periph.io registry.
func OpenGPIO(clkName, dataName string) (*GPIO, error) {
	clk := gpioreg.ByName(clkName)
	if clk == nil {
		return nil, fmt.Errorf("gpio %q not found", clkName)
	}
	data := gpioreg.ByName(dataName)
	if data == nil {
		return nil, fmt.Errorf("gpio %q not found", dataName)
	}
	return NewGPIO(clk, data)
}

func (g *GPIO) SetClock(l driver.Level) error {
	return g.clk.Out(gpio.Level(l))
}

func (g *GPIO) ReadData() (driver.Level, error) {
	return driver.Level(g.data.Read()), nil
}

// RPIOChip is the memory mapped GPIO block of a Raspberry Pi, opened once and
// shared by every RPIO pin pair.
type RPIOChip struct{}

// OpenRPIOChip maps the GPIO registers. Close must be called to unmap them.
func OpenRPIOChip() (*RPIOChip, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("rpio open: %w", err)
	}
	return &RPIOChip{}, nil
}

// Pins returns a BitBus on the given BCM pins, with data as input and clk
// driven low.
func (*RPIOChip) Pins(clkPin, dataPin int) *RPIO {
	r := &RPIO{clk: rpio.Pin(clkPin), data: rpio.Pin(dataPin)}
	r.data.Input()
	r.clk.Output()
	r.clk.Low()
	return r
}

func (*RPIOChip) Close() error {
	return rpio.Close()
}

// RPIO is a driver.BitBus using go-rpio's memory mapped GPIO. It toggles
// faster than the sysfs path.
type RPIO struct {
	clk  rpio.Pin
	data rpio.Pin
}

func (r *RPIO) SetClock(l driver.Level) error {
	if l == driver.High {
		r.clk.High()
	} else {
		r.clk.Low()
	}
	return nil
}

func (r *RPIO) ReadData() (driver.Level, error) {
	return driver.Level(r.data.Read() == rpio.High), nil
}
