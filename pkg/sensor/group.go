package sensor

import (
	"io"

	"go.uber.org/multierr"
)

// Group reads several sensors as one. A failing sensor does not hide the
// readings of the others.
type Group struct {
	sensors []Sensor
	closers []io.Closer
}

func NewGroup(sensors ...Sensor) *Group {
	return &Group{sensors: sensors}
}

// Read returns the readings of every sensor that succeeded together with the
// errors of those that did not.
func (g *Group) Read() ([]Reading, error) {
	var (
		out  []Reading
		errs error
	)
	for _, s := range g.sensors {
		rs, err := s.Read()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, rs...)
	}
	return out, errs
}

// Close closes the sensors, then the buses they were on.
func (g *Group) Close() error {
	var err error
	for _, s := range g.sensors {
		err = multierr.Append(err, s.Close())
	}
	for i := len(g.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, g.closers[i].Close())
	}
	return err
}
