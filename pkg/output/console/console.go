package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/output"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		stale := ""
		if r.Stale {
			stale = " stale"
		}
		if _, err := fmt.Fprintf(c.w, "%s sensor=%s kind=%s raw=%d value=%.6f %s%s\n",
			r.Timestamp.Format(time.RFC3339), r.Sensor, r.Kind, r.Raw, r.Value, r.Unit, stale); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
