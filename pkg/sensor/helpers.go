package sensor

import (
	"fmt"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/abp"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
)

const defaultWeightUnit = "g"

// abpSettings resolves the driver options and unit of an ABP sensor from its
// part number and overrides.
func abpSettings(c *config.ABPConfig) (opts *abp.Opts, unit string, iface abp.Interface, err error) {
	opts = &abp.Opts{}
	if c.PartNumber != "" {
		part, err := abp.ParsePartNumber(c.PartNumber)
		if err != nil {
			return nil, "", 0, err
		}
		opts = part.Opts()
		unit = part.Unit.String()
		iface = part.Interface
	}
	if c.Calibration != nil {
		opts.Calibration = c.Calibration.ABP()
		if c.Unit != "" && c.Unit != unit {
			unit = c.Unit
			opts.PascalPerUnit = 0
		}
	}
	if c.Address != 0 {
		opts.Addr = uint16(c.Address)
	}
	if opts.StalePolicy, err = c.Policy(); err != nil {
		return nil, "", 0, err
	}
	return opts, unit, iface, nil
}

func weightUnit(c *config.HX711Config) string {
	if c.Unit != "" {
		return c.Unit
	}
	return defaultWeightUnit
}

// Measurement is one quantity a configured sensor reports.
type Measurement struct {
	Kind string
	Unit string
}

// Measurements lists what sc will report, without touching hardware.
func Measurements(sc config.SensorConfig) ([]Measurement, error) {
	switch sc.Type {
	case config.KindABP:
		opts, unit, _, err := abpSettings(sc.ABP)
		if err != nil {
			return nil, err
		}
		m := []Measurement{{Kind: KindPressure, Unit: unit}}
		if opts.Temperature {
			m = append(m, Measurement{Kind: KindTemperature, Unit: "°C"})
		}
		return m, nil
	case config.KindHX711:
		return []Measurement{{Kind: KindWeight, Unit: weightUnit(sc.HX711)}}, nil
	}
	return nil, fmt.Errorf("unknown sensor type %q", sc.Type)
}
