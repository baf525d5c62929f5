package sensor

import "time"

// Measured quantities.
const (
	KindPressure    = "pressure"
	KindTemperature = "temperature"
	KindWeight      = "weight"
)

type Reading struct {
	Sensor    string    `json:"sensor"`
	Kind      string    `json:"kind"`
	Raw       int32     `json:"raw"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Stale     bool      `json:"stale,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Sensor interface {
	Read() ([]Reading, error)
	Close() error
}
