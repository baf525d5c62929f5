// Package driver holds the capabilities a chip driver is built on and the
// errors every driver in this module returns.
//
// Drivers own the capabilities they are given and never share them; callers
// that put several chips on one physical bus serialize access themselves
// (see bus.Shared).
package driver

// Level is the logic level of a single line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "High"
	}
	return "Low"
}

// ByteBus is a byte-oriented bus master such as I²C or SPI.
//
// SPI implementations ignore addr; the chip is selected by its CS line.
type ByteBus interface {
	// Read fills buf in a single transaction.
	Read(addr uint16, buf []byte) error
	// Write sends data in a single transaction. A zero-length write is valid and
	// is used by some chips as a wake-up or measurement request.
	Write(addr uint16, data []byte) error
}

// BitBus is a manually clocked two-wire serial link: one clock output and one
// data input. The data input also serves as the chip's ready line.
type BitBus interface {
	SetClock(l Level) error
	ReadData() (Level, error)
}

// Delayer provides blocking waits for chip timing.
type Delayer interface {
	DelayMicroseconds(n uint32)
	DelayMilliseconds(n uint32)
}
