// Package abp reads Honeywell ABP series board mount pressure sensors.
//
// The chip free-runs and always holds its latest conversion, so a reading is a
// single bus read of a status+pressure frame (optionally followed by an 11 bit
// temperature code). Parts with the sleep option need a measurement request
// first.
//
// Datasheet:
// https://prod-edam.honeywell.com/content/dam/honeywell-edam/sps/siot/en-us/products/sensors/pressure-sensors/board-mount-pressure-sensors/basic-abp-series/documents/sps-siot-basic-board-mount-pressure-abp-series-datasheet-32305128-ciid-155789.pdf
package abp

import (
	"errors"
	"fmt"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/driver"
	"periph.io/x/conn/v3/physic"
)

const (
	statusMask = 0xC0
	codeMask   = 0x3FFF

	pressureFrameLen    = 2
	temperatureFrameLen = 4

	defaultWakeDelay = 3 * time.Millisecond
)

// CodeMax is the largest 14 bit output code.
const CodeMax = codeMask

// Status is the two bit status field of a response frame.
type Status uint8

const (
	StatusNormal     Status = 0
	StatusCommand    Status = 1
	StatusStale      Status = 2
	StatusDiagnostic Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusCommand:
		return "command-mode"
	case StatusStale:
		return "stale"
	case StatusDiagnostic:
		return "diagnostic"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// StalePolicy selects what a read does when the chip reports stale data.
type StalePolicy int

const (
	// StaleReturn returns the value with Reading.Stale set.
	StaleReturn StalePolicy = iota
	// StaleError fails the read with driver.ErrStale.
	StaleError
)

// Calibration maps output codes to a physical range. The physical unit is
// whatever the caller picks (usually the part's rated unit).
type Calibration struct {
	MinCode     uint16
	MaxCode     uint16
	MinPhysical float64
	MaxPhysical float64
}

// Validate checks the mapping is usable.
func (c Calibration) Validate() error {
	if c.MinCode >= c.MaxCode {
		return fmt.Errorf("min code 0x%04X must be below max code 0x%04X", c.MinCode, c.MaxCode)
	}
	if c.MinPhysical == c.MaxPhysical {
		return fmt.Errorf("min and max physical value are both %g", c.MinPhysical)
	}
	return nil
}

// Convert applies the transfer function to a raw code. Codes outside the
// calibrated range are not clamped.
func (c Calibration) Convert(raw uint16) float64 {
	switch raw {
	case c.MinCode:
		return c.MinPhysical
	case c.MaxCode:
		return c.MaxPhysical
	}
	num := float64(int32(raw)-int32(c.MinCode)) * (c.MaxPhysical - c.MinPhysical)
	return c.MinPhysical + num/float64(int32(c.MaxCode)-int32(c.MinCode))
}

// Opts holds the configuration of a Dev.
type Opts struct {
	// Addr is the 7 bit I²C address. Ignored on SPI.
	Addr        uint16
	Calibration Calibration
	// Temperature enables the 4 byte frame carrying the temperature code.
	Temperature bool
	// Sleep marks parts that stay asleep until a measurement request.
	Sleep bool
	// WakeDelay is the wait between a measurement request and the data fetch.
	// Defaults to 3ms.
	WakeDelay   time.Duration
	StalePolicy StalePolicy
	// PascalPerUnit converts the calibrated unit to Pascal for Reading.Pascal.
	// Zero leaves Reading.Pascal unavailable.
	PascalPerUnit float64
}

// Reading is one decoded sample.
type Reading struct {
	Pressure float64
	// Temperature is in °C and only set by ReadPressureAndTemperature.
	Temperature float64
	Raw         uint16
	Status      Status
	Stale       bool

	pascalPerUnit float64
}

// Pascal converts Pressure to a physic.Pressure. It returns 0 when the unit
// factor is unknown.
func (r Reading) Pascal() physic.Pressure {
	return physic.Pressure(r.Pressure * r.pascalPerUnit * float64(physic.Pascal))
}

// Dev is a handle to an ABP sensor.
type Dev struct {
	b    driver.ByteBus
	d    driver.Delayer
	opts Opts
}

// New returns a handle to an ABP sensor reachable through b.
func New(b driver.ByteBus, d driver.Delayer, opts *Opts) (*Dev, error) {
	if b == nil {
		return nil, errors.New("abp: bus required")
	}
	if opts == nil {
		return nil, errors.New("abp: options required")
	}
	if err := opts.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("abp: %w", err)
	}
	o := *opts
	if o.WakeDelay <= 0 {
		o.WakeDelay = defaultWakeDelay
	}
	if o.Sleep && d == nil {
		return nil, errors.New("abp: sleep mode parts need a delayer")
	}
	return &Dev{b: b, d: d, opts: o}, nil
}

// String implements fmt.Stringer.
func (d *Dev) String() string {
	return fmt.Sprintf("ABP{0x%02X}", d.opts.Addr)
}

// ReadPressure reads one pressure sample.
func (d *Dev) ReadPressure() (Reading, error) {
	var buf [pressureFrameLen]byte
	if err := d.fetch(buf[:]); err != nil {
		return Reading{}, err
	}
	return d.decode(buf[:])
}

// ReadPressureAndTemperature reads pressure and temperature from one frame.
// The part must have been configured with Temperature.
func (d *Dev) ReadPressureAndTemperature() (Reading, error) {
	if !d.opts.Temperature {
		return Reading{}, errors.New("abp: part has no temperature output")
	}
	var buf [temperatureFrameLen]byte
	if err := d.fetch(buf[:]); err != nil {
		return Reading{}, err
	}
	r, err := d.decode(buf[:])
	if err != nil {
		return Reading{}, err
	}
	r.Temperature = TemperatureFromCode(temperatureCode(buf[:]))
	return r, nil
}

func (d *Dev) fetch(buf []byte) error {
	if d.opts.Sleep {
		if err := d.b.Write(d.opts.Addr, nil); err != nil {
			return fmt.Errorf("abp: %w", driver.WrapBus("measurement request", err))
		}
		d.d.DelayMicroseconds(uint32(d.opts.WakeDelay / time.Microsecond))
	}
	if err := d.b.Read(d.opts.Addr, buf); err != nil {
		return fmt.Errorf("abp: %w", driver.WrapBus("read frame", err))
	}
	return nil
}

func (d *Dev) decode(frame []byte) (Reading, error) {
	st, raw := decodeFrame(frame)
	r := Reading{Raw: raw, Status: st, pascalPerUnit: d.opts.PascalPerUnit}
	switch st {
	case StatusDiagnostic:
		return Reading{}, fmt.Errorf("abp: %w", driver.ErrSensorFault)
	case StatusCommand:
		return Reading{}, fmt.Errorf("abp: chip in %s: %w", st, driver.ErrUnexpectedMode)
	case StatusStale:
		if d.opts.StalePolicy == StaleError {
			return Reading{}, fmt.Errorf("abp: %w", driver.ErrStale)
		}
		r.Stale = true
	}
	r.Pressure = d.opts.Calibration.Convert(raw)
	return r, nil
}

// decodeFrame splits the first two bytes into status and 14 bit code.
func decodeFrame(frame []byte) (Status, uint16) {
	st := Status((frame[0] & statusMask) >> 6)
	raw := (uint16(frame[0])<<8 | uint16(frame[1])) & codeMask
	return st, raw
}

// temperatureCode extracts the 11 bit temperature code from bytes 2 and 3.
func temperatureCode(frame []byte) uint16 {
	return uint16(frame[2])<<3 | uint16(frame[3])>>5
}

// TemperatureFromCode returns °C for an 11 bit temperature code.
func TemperatureFromCode(code uint16) float64 {
	return float64(code)/2047*200 - 50
}
