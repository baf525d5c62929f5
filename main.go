package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/abp"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output/console"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output/modbus"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output/mqtt"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output/prometheus"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	// acquisition cost estimates used to pace the read loop
	abpReadMs       = 2
	abpWakeMs       = 3
	hx711OverheadMs = 2
)

type outputEntry struct {
	Type       string
	Output     output.Output
	IntervalMs int
	last       time.Time
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("log level: %v", err)
	}
	logrus.SetLevel(level)

	s, err := sensor.New(cfg)
	if err != nil {
		logrus.Fatalf("sensors: %v", err)
	}

	sensorInterval := computeSensorInterval(cfg)
	entries, err := initOutputs(&cfg, cfg.IntervalMs)
	if err != nil {
		_ = s.Close()
		logrus.Fatalf("outputs: %v", err)
	}
	logrus.WithFields(logrus.Fields{
		"sensors":     len(cfg.EnabledSensors()),
		"outputs":     len(entries),
		"interval_ms": sensorInterval,
		"mode":        cfg.SensorType,
	}).Info("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	run(ctx, s, entries, time.Duration(sensorInterval)*time.Millisecond)

	err = s.Close()
	for _, e := range entries {
		err = multierr.Append(err, e.Output.Close())
	}
	if err != nil {
		logrus.WithError(err).Error("shutdown")
		os.Exit(1)
	}
	logrus.Info("stopped")
}

// run reads s every interval and hands each batch to the outputs whose own
// interval has elapsed, until ctx is done. A failed read is passed on as the
// (possibly empty) batch that did succeed; earlier values are never resent.
func run(ctx context.Context, s sensor.Sensor, entries []outputEntry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			readings, err := s.Read()
			if err != nil {
				logrus.WithError(err).Warn("sensor read failed")
			} else if len(readings) == 0 {
				continue
			}
			publishDue(now, readings, entries)
		}
	}
}

func publishDue(now time.Time, readings []sensor.Reading, entries []outputEntry) {
	for i := range entries {
		e := &entries[i]
		if !e.last.IsZero() && now.Sub(e.last) < time.Duration(e.IntervalMs)*time.Millisecond {
			continue
		}
		e.last = now
		if err := e.Output.Publish(readings); err != nil {
			logrus.WithError(err).WithField("output", e.Type).Warn("publish failed")
		}
	}
}

// computeSensorInterval estimates how long one pass over every enabled sensor
// takes, in milliseconds.
func computeSensorInterval(cfg config.Config) int {
	total := 0
	for _, sc := range cfg.EnabledSensors() {
		switch sc.Type {
		case config.KindABP:
			total += abpReadMs
			if sc.ABP != nil && sc.ABP.PartNumber != "" {
				if p, err := abp.ParsePartNumber(sc.ABP.PartNumber); err == nil && p.Sleep {
					total += abpWakeMs
				}
			}
		case config.KindHX711:
			rate := 10
			if sc.HX711 != nil && sc.HX711.RateSPS > 0 {
				rate = sc.HX711.RateSPS
			}
			total += 1000/rate + hx711OverheadMs
		}
	}
	if total == 0 {
		total = cfg.IntervalMs
	}
	if total <= 0 {
		total = 1000
	}
	return total
}

// initOutputs builds every configured output. Outputs without their own
// interval publish every defaultInterval ms.
func initOutputs(cfg *config.Config, defaultInterval int) ([]outputEntry, error) {
	var entries []outputEntry
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs == 0 {
			oc.IntervalMs = defaultInterval
		}
		o, err := newOutput(*oc, cfg.Sensors)
		if err != nil {
			for _, e := range entries {
				err = multierr.Append(err, e.Output.Close())
			}
			return nil, err
		}
		entries = append(entries, outputEntry{Type: oc.Type, Output: o, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}

func newOutput(oc config.OutputConfig, sensors []config.SensorConfig) (output.Output, error) {
	switch oc.Type {
	case config.OutputConsole:
		return console.NewConsole(), nil
	case config.OutputMQTT:
		var mc config.MQTTConfig
		if oc.MQTT != nil {
			mc = *oc.MQTT
		}
		return mqtt.NewMQTT(mc, sensors)
	case config.OutputPrometheus:
		var pc config.PrometheusConfig
		if oc.Prometheus != nil {
			pc = *oc.Prometheus
		}
		return prometheus.NewPrometheus(pc)
	case config.OutputModbus:
		if oc.Modbus == nil {
			return nil, fmt.Errorf("modbus output: missing modbus section")
		}
		return modbus.NewModbus(*oc.Modbus, sensors)
	}
	return nil, fmt.Errorf("unknown output type %q", oc.Type)
}
