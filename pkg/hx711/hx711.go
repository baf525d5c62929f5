// Package hx711 reads the Avia Semiconductor HX711 24 bit load cell amplifier.
//
// The chip has no registers. Conversion results are shifted out MSB first on
// PD_SCK and the input channel and gain of the next conversion are selected by
// the number of extra clock pulses after the 24 data bits.
//
// Datasheet:
// https://cdn.sparkfun.com/datasheets/Sensors/ForceFlex/hx711_english.pdf
package hx711

import (
	"errors"
	"fmt"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/driver"
)

const (
	dataBits = 24

	// PD_SCK high and low time: 0.2µs min, 50µs max.
	clockHalfPeriodUs = 1
	// Holding PD_SCK high longer than 60µs powers the chip down.
	powerDownUs = 100

	defaultReadyTimeout = time.Second
	defaultPollInterval = time.Millisecond
)

// Channel is an analog input of the chip.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
)

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// Gain is the programmable amplifier gain.
type Gain int

const (
	Gain128 Gain = 128
	Gain64  Gain = 64
	Gain32  Gain = 32
)

// ErrInvalidGain is returned for channel/gain pairs the chip cannot select.
var ErrInvalidGain = errors.New("hx711: invalid channel/gain combination")

// ParseChannel parses "A" or "B" (case insensitive). An empty string is A.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "", "A", "a":
		return ChannelA, nil
	case "B", "b":
		return ChannelB, nil
	}
	return 0, fmt.Errorf("hx711: unknown channel %q", s)
}

// CheckGain reports whether the chip can select ch at gain g.
func CheckGain(ch Channel, g Gain) error {
	_, err := gainPulses(ch, g)
	return err
}

// gainPulses returns the number of pulses after the data bits that select ch
// and g for the next conversion.
func gainPulses(ch Channel, g Gain) (int, error) {
	switch {
	case ch == ChannelA && g == Gain128:
		return 1, nil
	case ch == ChannelB && g == Gain32:
		return 2, nil
	case ch == ChannelA && g == Gain64:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: channel %s gain %d", ErrInvalidGain, ch, g)
}

// Opts holds the configuration of a Dev.
type Opts struct {
	Channel Channel
	Gain    Gain
	// Scale is the weight unit per raw count. Zero means 1.
	Scale float64
	// Offset is the raw reading of the empty load cell.
	Offset int32
	// ReadyTimeout bounds the wait for a conversion. Defaults to 1s.
	ReadyTimeout time.Duration
	// PollInterval is the wait between two ready checks. Defaults to 1ms.
	PollInterval time.Duration
}

// DefaultOpts is channel A at gain 128 with unit scale.
var DefaultOpts = Opts{
	Channel: ChannelA,
	Gain:    Gain128,
	Scale:   1,
}

// Dev is a handle to an HX711.
//
// Dev is not safe for concurrent use. A read that has started clocking must
// not be interrupted, so callers must not share a Dev across goroutines
// without their own locking.
type Dev struct {
	b      driver.BitBus
	d      driver.Delayer
	ch     Channel
	gain   Gain
	pulses int
	scale  float64
	offset int32
	polls  int
	pollUs uint32
}

// New returns a handle to an HX711 reachable through b.
func New(b driver.BitBus, d driver.Delayer, opts *Opts) (*Dev, error) {
	if b == nil || d == nil {
		return nil, errors.New("hx711: bus and delayer required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	o := *opts
	if o.Gain == 0 {
		o.Gain = Gain128
	}
	if o.Scale == 0 {
		o.Scale = 1
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = defaultReadyTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	dev := &Dev{b: b, d: d, scale: o.Scale, offset: o.Offset}
	if err := dev.SetGain(o.Channel, o.Gain); err != nil {
		return nil, err
	}
	dev.pollUs = uint32(o.PollInterval / time.Microsecond)
	if dev.pollUs == 0 {
		dev.pollUs = 1
	}
	dev.polls = int(o.ReadyTimeout / o.PollInterval)
	if dev.polls < 1 {
		dev.polls = 1
	}
	if err := b.SetClock(driver.Low); err != nil {
		return nil, fmt.Errorf("hx711: %w", driver.WrapBus("clock low", err))
	}
	return dev, nil
}

// String implements fmt.Stringer.
func (d *Dev) String() string {
	return fmt.Sprintf("HX711{%s/%d}", d.ch, d.gain)
}

// SetGain selects the channel and gain used from the next conversion on. The
// selection is latched by every subsequent read until changed.
func (d *Dev) SetGain(ch Channel, g Gain) error {
	n, err := gainPulses(ch, g)
	if err != nil {
		return err
	}
	d.ch, d.gain, d.pulses = ch, g, n
	return nil
}

// Gain returns the selected channel and gain.
func (d *Dev) Gain() (Channel, Gain) {
	return d.ch, d.gain
}

// SetScale sets the weight unit per raw count.
func (d *Dev) SetScale(s float64) error {
	if s == 0 {
		return errors.New("hx711: scale must not be zero")
	}
	d.scale = s
	return nil
}

func (d *Dev) Scale() float64 { return d.scale }

// SetOffset sets the raw reading of the empty load cell.
func (d *Dev) SetOffset(o int32) { d.offset = o }

func (d *Dev) Offset() int32 { return d.offset }

// ReadRaw waits for a conversion and returns it sign-extended.
func (d *Dev) ReadRaw() (int32, error) {
	if err := d.waitReady(); err != nil {
		return 0, err
	}
	v, err := d.shiftIn()
	if err != nil {
		return 0, err
	}
	return signExtend24(v), nil
}

// ReadWeight returns (raw - offset) * scale.
func (d *Dev) ReadWeight() (float64, error) {
	raw, err := d.ReadRaw()
	if err != nil {
		return 0, err
	}
	return d.Weight(raw), nil
}

// Weight converts a raw reading with the current offset and scale.
func (d *Dev) Weight(raw int32) float64 {
	return float64(int64(raw)-int64(d.offset)) * d.scale
}

// Tare stores the current raw reading as the offset.
func (d *Dev) Tare() error {
	raw, err := d.ReadRaw()
	if err != nil {
		return err
	}
	d.offset = raw
	return nil
}

// PowerDown puts the chip in power down mode.
func (d *Dev) PowerDown() error {
	if err := d.b.SetClock(driver.Low); err != nil {
		return fmt.Errorf("hx711: %w", driver.WrapBus("power down", err))
	}
	if err := d.b.SetClock(driver.High); err != nil {
		return fmt.Errorf("hx711: %w", driver.WrapBus("power down", err))
	}
	d.d.DelayMicroseconds(powerDownUs)
	return nil
}

// PowerUp wakes the chip. It resets to channel A gain 128; the first read
// after waking re-latches the configured selection for the following one.
func (d *Dev) PowerUp() error {
	if err := d.b.SetClock(driver.Low); err != nil {
		return fmt.Errorf("hx711: %w", driver.WrapBus("power up", err))
	}
	return nil
}

// waitReady polls DOUT until it goes low.
func (d *Dev) waitReady() error {
	for i := 0; i < d.polls; i++ {
		l, err := d.b.ReadData()
		if err != nil {
			return fmt.Errorf("hx711: %w", driver.WrapBus("ready", err))
		}
		if l == driver.Low {
			return nil
		}
		d.d.DelayMicroseconds(d.pollUs)
	}
	return fmt.Errorf("hx711: conversion not ready: %w", driver.ErrTimeout)
}

// shiftIn clocks out the 24 data bits MSB first then the gain select pulses.
func (d *Dev) shiftIn() (uint32, error) {
	var v uint32
	for i := 0; i < dataBits; i++ {
		if err := d.pulse(); err != nil {
			return 0, err
		}
		l, err := d.b.ReadData()
		if err != nil {
			return 0, fmt.Errorf("hx711: %w", driver.WrapBus("data bit", err))
		}
		v <<= 1
		if l == driver.High {
			v |= 1
		}
	}
	for i := 0; i < d.pulses; i++ {
		if err := d.pulse(); err != nil {
			return 0, err
		}
	}
	return v, nil
}

// pulse drives one PD_SCK period. Data is sampled after the falling edge.
func (d *Dev) pulse() error {
	if err := d.b.SetClock(driver.High); err != nil {
		return fmt.Errorf("hx711: %w", driver.WrapBus("clock high", err))
	}
	d.d.DelayMicroseconds(clockHalfPeriodUs)
	if err := d.b.SetClock(driver.Low); err != nil {
		return fmt.Errorf("hx711: %w", driver.WrapBus("clock low", err))
	}
	d.d.DelayMicroseconds(clockHalfPeriodUs)
	return nil
}

// signExtend24 interprets the low 24 bits of v as two's complement.
func signExtend24(v uint32) int32 {
	return int32(v<<8) >> 8
}
