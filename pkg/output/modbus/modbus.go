// Package modbus mirrors readings into holding registers of a Modbus TCP
// server.
//
// Every measurement of every enabled sensor owns three consecutive registers
// starting at the configured address, in configuration order:
//
//	+0, +1  value as IEEE 754 float32, high word first
//	+2      flags: bit 0 updated by the last publish, bit 1 stale
package modbus

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
)

const (
	RegistersPerMeasurement = 3
	DefaultTimeout          = time.Second

	FlagUpdated uint16 = 1 << 0
	FlagStale   uint16 = 1 << 1

	// maxWriteRegisters is the function 16 quantity limit.
	maxWriteRegisters = 123
)

type registerWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type key struct {
	sensor string
	kind   string
}

type ModbusOutput struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  registerWriter
	base    uint16
	slots   map[key]int
	regs    []uint16
	log     *logrus.Entry
}

// NewModbus connects to cfg.Endpoint and lays out the register block of the
// given sensors.
func NewModbus(cfg config.ModbusConfig, sensors []config.SensorConfig) (output.Output, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus output: endpoint required")
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = DefaultTimeout
	if cfg.TimeoutMs > 0 {
		h.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus connect %s: %w", cfg.Endpoint, err)
	}
	m, err := newWithClient(modbus.NewClient(h), cfg, sensors)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	m.handler = h
	return m, nil
}

func newWithClient(c registerWriter, cfg config.ModbusConfig, sensors []config.SensorConfig) (*ModbusOutput, error) {
	m := &ModbusOutput{
		client: c,
		base:   cfg.Address,
		slots:  map[key]int{},
		log:    logrus.WithFields(logrus.Fields{"output": "modbus", "endpoint": cfg.Endpoint}),
	}
	for _, sc := range sensors {
		if !sc.Enabled {
			continue
		}
		ms, err := sensor.Measurements(sc)
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", sc.Name, err)
		}
		for _, meas := range ms {
			m.slots[key{sc.Name, meas.Kind}] = len(m.slots)
		}
	}
	n := len(m.slots) * RegistersPerMeasurement
	if int(cfg.Address)+n > math.MaxUint16+1 {
		return nil, fmt.Errorf("modbus output: %d registers at %d overflow the address space", n, cfg.Address)
	}
	m.regs = make([]uint16, n)
	return m, nil
}

// Offset returns the register offset of a measurement relative to the
// configured base address.
func (m *ModbusOutput) Offset(sensorName, kind string) (int, bool) {
	i, ok := m.slots[key{sensorName, kind}]
	return i * RegistersPerMeasurement, ok
}

func (m *ModbusOutput) Publish(readings []sensor.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 2; i < len(m.regs); i += RegistersPerMeasurement {
		m.regs[i] &^= FlagUpdated
	}
	for _, r := range readings {
		i, ok := m.slots[key{r.Sensor, r.Kind}]
		if !ok {
			m.log.WithFields(logrus.Fields{"sensor": r.Sensor, "kind": r.Kind}).Debug("no register for reading")
			continue
		}
		at := i * RegistersPerMeasurement
		bits := math.Float32bits(float32(r.Value))
		m.regs[at] = uint16(bits >> 16)
		m.regs[at+1] = uint16(bits)
		flags := FlagUpdated
		if r.Stale {
			flags |= FlagStale
		}
		m.regs[at+2] = flags
	}
	for start := 0; start < len(m.regs); start += maxWriteRegisters {
		end := start + maxWriteRegisters
		if end > len(m.regs) {
			end = len(m.regs)
		}
		chunk := m.regs[start:end]
		if _, err := m.client.WriteMultipleRegisters(m.base+uint16(start), uint16(len(chunk)), packRegisters(chunk)); err != nil {
			return fmt.Errorf("modbus write at %d: %w", int(m.base)+start, err)
		}
	}
	return nil
}

func (m *ModbusOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		return nil
	}
	return m.handler.Close()
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
