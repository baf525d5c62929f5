package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
)

func TestConsolePublish(t *testing.T) {
	var buf bytes.Buffer
	c := &ConsoleOutput{w: &buf}
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	readings := []sensor.Reading{
		{Sensor: "pressure", Kind: sensor.KindPressure, Raw: 8191, Value: 1.234567, Unit: "psi", Timestamp: ts},
		{Sensor: "pressure", Kind: sensor.KindPressure, Raw: 8191, Value: 1.234567, Unit: "psi", Stale: true, Timestamp: ts},
	}
	if err := c.Publish(readings); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "2025-09-19T14:41:54Z sensor=pressure kind=pressure raw=8191 value=1.234567 psi\n" +
		"2025-09-19T14:41:54Z sensor=pressure kind=pressure raw=8191 value=1.234567 psi stale\n"
	if got := buf.String(); got != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", got, want)
	}
}
