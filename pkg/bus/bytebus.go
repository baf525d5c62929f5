// Package bus provides the driver capabilities on top of real hardware:
// periph.io I²C, SPI and GPIO, go-rpio GPIO and a wall clock delay.
package bus

import (
	"fmt"
	"sync"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/driver"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// DefaultSPISpeed is the highest clock the ABP series accepts.
const DefaultSPISpeed = 800 * physic.KiloHertz

// I2C is a driver.ByteBus over a periph.io I²C bus.
type I2C struct {
	bus i2c.Bus
}

func NewI2C(b i2c.Bus) *I2C {
	return &I2C{bus: b}
}

func (b *I2C) Read(addr uint16, buf []byte) error {
	return b.bus.Tx(addr, nil, buf)
}

// Write sends data. An empty data slice issues an address-only write.
func (b *I2C) Write(addr uint16, data []byte) error {
	return b.bus.Tx(addr, data, nil)
}

// SPI is a driver.ByteBus over a periph.io SPI connection. The address is
// ignored.
type SPI struct {
	conn spi.Conn
}

// NewSPI connects to p in mode 0 at speed (DefaultSPISpeed when zero).
func NewSPI(p spi.Port, speed physic.Frequency) (*SPI, error) {
	if speed == 0 {
		speed = DefaultSPISpeed
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("spi connect: %w", err)
	}
	return &SPI{conn: c}, nil
}

func (b *SPI) Read(_ uint16, buf []byte) error {
	w := make([]byte, len(buf))
	return b.conn.Tx(w, buf)
}

// Write sends data. An empty data slice clocks a single dummy byte so the chip
// sees a chip select cycle.
func (b *SPI) Write(_ uint16, data []byte) error {
	if len(data) == 0 {
		data = []byte{0}
	}
	return b.conn.Tx(data, make([]byte, len(data)))
}

// Shared serializes transactions of several drivers on one physical bus.
type Shared struct {
	mu  sync.Mutex
	bus driver.ByteBus
}

func NewShared(b driver.ByteBus) *Shared {
	return &Shared{bus: b}
}

func (s *Shared) Read(addr uint16, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.Read(addr, buf)
}

func (s *Shared) Write(addr uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.Write(addr, data)
}
