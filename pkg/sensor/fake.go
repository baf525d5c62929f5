package sensor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/abp"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
)

type fakeSource struct {
	name  string
	kind  string
	unit  string
	cal   abp.Calibration
	temp  bool
	scale float64
	// offset is the simulated empty load cell reading.
	offset int32
}

// FakeSensor produces plausible readings for every enabled sensor without
// touching hardware.
type FakeSensor struct {
	sources []fakeSource
	rnd     *rand.Rand
	mu      sync.Mutex
}

func NewFakeSensor(cfg config.Config) (Sensor, error) {
	f := &FakeSensor{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, sc := range cfg.EnabledSensors() {
		switch sc.Type {
		case config.KindABP:
			opts, unit, _, err := abpSettings(sc.ABP)
			if err != nil {
				return nil, err
			}
			f.sources = append(f.sources, fakeSource{name: sc.Name, kind: KindPressure, unit: unit, cal: opts.Calibration, temp: opts.Temperature})
		case config.KindHX711:
			f.sources = append(f.sources, fakeSource{name: sc.Name, kind: KindWeight, unit: weightUnit(sc.HX711), scale: sc.HX711.Scale, offset: sc.HX711.Offset})
		}
	}
	return f, nil
}

func (f *FakeSensor) Read() ([]Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	out := make([]Reading, 0, len(f.sources))
	for _, s := range f.sources {
		switch s.kind {
		case KindPressure:
			span := int(s.cal.MaxCode) - int(s.cal.MinCode)
			raw := uint16(int(s.cal.MinCode) + f.rnd.Intn(span+1))
			out = append(out, Reading{Sensor: s.name, Kind: KindPressure, Raw: int32(raw), Value: s.cal.Convert(raw), Unit: s.unit, Timestamp: now})
			if s.temp {
				code := uint16(f.rnd.Intn(2048))
				out = append(out, Reading{Sensor: s.name, Kind: KindTemperature, Raw: int32(code), Value: abp.TemperatureFromCode(code), Unit: "°C", Timestamp: now})
			}
		case KindWeight:
			// simulate a load of up to 2^16 counts above the empty cell
			raw := s.offset + int32(f.rnd.Intn(1<<16))
			scale := s.scale
			if scale == 0 {
				scale = 1
			}
			out = append(out, Reading{Sensor: s.name, Kind: KindWeight, Raw: raw, Value: float64(raw-s.offset) * scale, Unit: s.unit, Timestamp: now})
		}
	}
	return out, nil
}

func (f *FakeSensor) Close() error { return nil }
