package sensor

import (
	"fmt"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/abp"
	"github.com/sirupsen/logrus"
)

// ABPSensor reports pressure (and temperature when the part has it) from an
// ABP device.
type ABPSensor struct {
	name        string
	dev         *abp.Dev
	unit        string
	temperature bool
	log         *logrus.Entry
	now         func() time.Time
}

func NewABPSensor(name string, dev *abp.Dev, unit string, temperature bool) *ABPSensor {
	return &ABPSensor{
		name:        name,
		dev:         dev,
		unit:        unit,
		temperature: temperature,
		log:         logrus.WithFields(logrus.Fields{"sensor": name, "device": dev.String()}),
		now:         time.Now,
	}
}

func (s *ABPSensor) Read() ([]Reading, error) {
	var (
		r   abp.Reading
		err error
	)
	if s.temperature {
		r, err = s.dev.ReadPressureAndTemperature()
	} else {
		r, err = s.dev.ReadPressure()
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	if r.Stale {
		s.log.Debug("stale pressure sample")
	}
	now := s.now()
	out := []Reading{{Sensor: s.name, Kind: KindPressure, Raw: int32(r.Raw), Value: r.Pressure, Unit: s.unit, Stale: r.Stale, Timestamp: now}}
	if s.temperature {
		out = append(out, Reading{Sensor: s.name, Kind: KindTemperature, Value: r.Temperature, Unit: "°C", Stale: r.Stale, Timestamp: now})
	}
	return out, nil
}

func (s *ABPSensor) Close() error { return nil }
