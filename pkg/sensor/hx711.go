package sensor

import (
	"fmt"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/hx711"
)

// HX711Sensor reports the weight on a load cell.
type HX711Sensor struct {
	name string
	dev  *hx711.Dev
	unit string
	now  func() time.Time
}

func NewHX711Sensor(name string, dev *hx711.Dev, unit string) *HX711Sensor {
	return &HX711Sensor{name: name, dev: dev, unit: unit, now: time.Now}
}

func (s *HX711Sensor) Read() ([]Reading, error) {
	raw, err := s.dev.ReadRaw()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	return []Reading{{Sensor: s.name, Kind: KindWeight, Raw: raw, Value: s.dev.Weight(raw), Unit: s.unit, Timestamp: s.now()}}, nil
}

// Tare zeroes the load cell at its current load.
func (s *HX711Sensor) Tare() error {
	if err := s.dev.Tare(); err != nil {
		return fmt.Errorf("%s: tare: %w", s.name, err)
	}
	return nil
}

// Close powers the chip down.
func (s *HX711Sensor) Close() error {
	return s.dev.PowerDown()
}
