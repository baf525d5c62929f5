package abp

import (
	"fmt"
	"strconv"
	"strings"
)

// Output codes span 10% to 90% of 2^14 on every digital transfer function.
const (
	OutputMin = 0x0666
	OutputMax = 0x3999
)

// Unit is the pressure unit a part is rated in.
type Unit byte

const (
	Mbar Unit = 'M'
	Bar  Unit = 'B'
	KPa  Unit = 'K'
	Psi  Unit = 'P'
)

func (u Unit) String() string {
	switch u {
	case Mbar:
		return "mbar"
	case Bar:
		return "bar"
	case KPa:
		return "kPa"
	case Psi:
		return "psi"
	}
	return fmt.Sprintf("Unit(%q)", byte(u))
}

// PascalPerUnit returns how many Pascal one unit holds.
func (u Unit) PascalPerUnit() float64 {
	switch u {
	case Mbar:
		return 100
	case Bar:
		return 100000
	case KPa:
		return 1000
	case Psi:
		return 6894.757293
	}
	return 0
}

// Interface is the digital bus a part speaks.
type Interface int

const (
	I2C Interface = iota
	SPI
)

func (i Interface) String() string {
	if i == SPI {
		return "spi"
	}
	return "i2c"
}

// Part is a decoded ABP catalog listing.
type Part struct {
	Number       string
	Range        float64
	Unit         Unit
	Differential bool
	Interface    Interface
	Addr         uint16
	Sleep        bool
	Temperature  bool
}

// ParsePartNumber decodes a catalog listing such as "ABPDNNN150PGAA3".
// Spaces are ignored.
//
//	ABP D NN N 150P G A A 3
//	 |  |  | |  |   | | | `- supply voltage
//	 |  |  | |  |   | | `--- transfer function: A, D (sleep+temp), S (sleep), T (temp)
//	 |  |  | |  |   | `----- output: 0-7 I²C address, S SPI, A analog
//	 |  |  | |  |   `------- D differential, G gauge, A absolute
//	 |  |  | |  `----------- range and unit: M mbar, B bar, K kPa, P psi
//	 |  |  | `-------------- option
//	 |  |  `---------------- pressure port
//	 |  `------------------- package
//	 `---------------------- series
func ParsePartNumber(pn string) (Part, error) {
	s := strings.ToUpper(strings.ReplaceAll(pn, " ", ""))
	if len(s) < 15 {
		return Part{}, fmt.Errorf("abp: part number %q too short", pn)
	}
	if s[:3] != "ABP" {
		return Part{}, fmt.Errorf("abp: %q is not an ABP series part", pn)
	}
	p := Part{Number: s}

	rng, err := strconv.ParseFloat(s[7:10], 64)
	if err != nil || rng <= 0 {
		return Part{}, fmt.Errorf("abp: %q: invalid pressure range %q", pn, s[7:10])
	}
	p.Range = rng

	p.Unit = Unit(s[10])
	if p.Unit.PascalPerUnit() == 0 {
		return Part{}, fmt.Errorf("abp: %q: unknown pressure unit %q", pn, s[10])
	}

	switch s[11] {
	case 'D':
		p.Differential = true
	case 'G', 'A':
	default:
		return Part{}, fmt.Errorf("abp: %q: unknown pressure type %q", pn, s[11])
	}

	switch o := s[12]; {
	case o >= '0' && o <= '7':
		p.Interface = I2C
		p.Addr = uint16(o-'0')<<4 | 0x08
	case o == 'S':
		p.Interface = SPI
	case o == 'A':
		return Part{}, fmt.Errorf("abp: %q: analog output parts are not supported", pn)
	default:
		return Part{}, fmt.Errorf("abp: %q: unknown output type %q", pn, o)
	}

	switch s[13] {
	case 'A':
	case 'D':
		p.Sleep, p.Temperature = true, true
	case 'S':
		p.Sleep = true
	case 'T':
		p.Temperature = true
	default:
		return Part{}, fmt.Errorf("abp: %q: unknown transfer function %q", pn, s[13])
	}
	return p, nil
}

// Calibration returns the datasheet transfer function of the part, in the
// part's rated unit.
func (p Part) Calibration() Calibration {
	c := Calibration{MinCode: OutputMin, MaxCode: OutputMax, MaxPhysical: p.Range}
	if p.Differential {
		c.MinPhysical = -p.Range
	}
	return c
}

// Opts returns driver options matching the part.
func (p Part) Opts() *Opts {
	return &Opts{
		Addr:          p.Addr,
		Calibration:   p.Calibration(),
		Temperature:   p.Temperature,
		Sleep:         p.Sleep,
		PascalPerUnit: p.Unit.PascalPerUnit(),
	}
}
