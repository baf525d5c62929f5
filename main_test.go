package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
)

func TestComputeSensorInterval(t *testing.T) {
	// no enabled sensors -> fallback to global interval
	cfg := config.Config{IntervalMs: 250}
	if got := computeSensorInterval(cfg); got != 250 {
		t.Fatalf("fallback interval: got %d want 250", got)
	}

	// one free-running ABP part
	cfg.Sensors = []config.SensorConfig{{Name: "p", Type: config.KindABP, Enabled: true, ABP: &config.ABPConfig{PartNumber: "ABPDNNN150PG2A3"}}}
	if got := computeSensorInterval(cfg); got != 2 {
		t.Fatalf("abp interval: got %d want 2", got)
	}

	// sleep-mode ABP part adds the wake delay
	cfg.Sensors[0].ABP.PartNumber = "ABPDNNN060MD0D3"
	if got := computeSensorInterval(cfg); got != 5 {
		t.Fatalf("sleep abp interval: got %d want 5", got)
	}

	// HX711 at 10 SPS (default) and 80 SPS
	cfg.Sensors = append(cfg.Sensors,
		config.SensorConfig{Name: "w1", Type: config.KindHX711, Enabled: true, HX711: &config.HX711Config{}},
		config.SensorConfig{Name: "w2", Type: config.KindHX711, Enabled: true, HX711: &config.HX711Config{RateSPS: 80}},
		config.SensorConfig{Name: "w3", Type: config.KindHX711, Enabled: false, HX711: &config.HX711Config{}},
	)
	if got := computeSensorInterval(cfg); got != 5+102+14 {
		t.Fatalf("mixed interval: got %d want %d", got, 5+102+14)
	}
}

func TestInitOutputsSetsInterval(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "console", IntervalMs: 50}}}
	entries, err := initOutputs(&cfg, 123)
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries len: %d", len(entries))
	}
	if cfg.Outputs[0].IntervalMs != 123 {
		t.Fatalf("cfg output interval not set, got %d", cfg.Outputs[0].IntervalMs)
	}
	if entries[0].IntervalMs != 123 || entries[1].IntervalMs != 50 {
		t.Fatalf("entry intervals: %d, %d", entries[0].IntervalMs, entries[1].IntervalMs)
	}
}

func TestInitOutputsErrors(t *testing.T) {
	for _, oc := range []config.OutputConfig{{Type: "carrier-pigeon"}, {Type: config.OutputModbus}} {
		cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, oc}}
		if _, err := initOutputs(&cfg, 100); err == nil {
			t.Errorf("%s: expected error", oc.Type)
		}
	}
}

type recordingOutput struct {
	mu      sync.Mutex
	batches [][]sensor.Reading
	err     error
}

func (r *recordingOutput) Publish(rs []sensor.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, rs)
	return r.err
}

func (r *recordingOutput) Close() error { return nil }

func (r *recordingOutput) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestPublishDueHonorsIntervals(t *testing.T) {
	fast, slow := &recordingOutput{}, &recordingOutput{err: errors.New("broker down")}
	entries := []outputEntry{
		{Type: "fast", Output: fast, IntervalMs: 10},
		{Type: "slow", Output: slow, IntervalMs: 100},
	}
	rs := []sensor.Reading{{Sensor: "p", Kind: sensor.KindPressure, Value: 1}}
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i <= 20; i++ {
		publishDue(t0.Add(time.Duration(i*10)*time.Millisecond), rs, entries)
	}
	if got := fast.count(); got != 21 {
		t.Fatalf("fast output published %d times want 21", got)
	}
	if got := slow.count(); got != 3 {
		t.Fatalf("slow output published %d times want 3", got)
	}
}

// failingSensor succeeds for the first ok reads and fails afterwards.
type failingSensor struct {
	mu    sync.Mutex
	ok    int
	calls int
}

func (f *failingSensor) Read() ([]sensor.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > f.ok {
		return nil, errors.New("bus error")
	}
	return []sensor.Reading{{Sensor: "p", Kind: sensor.KindPressure, Value: 42}}, nil
}

func (f *failingSensor) Close() error { return nil }

func runFor(t *testing.T, s sensor.Sensor, out *recordingOutput, minPublishes int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx, s, []outputEntry{{Type: "rec", Output: out}}, time.Millisecond)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for out.count() < minPublishes {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("only %d publishes", out.count())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRunDoesNotResendAfterReadErrors(t *testing.T) {
	out := &recordingOutput{}
	runFor(t, &failingSensor{ok: 1}, out, 5)
	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.batches[0]) != 1 || out.batches[0][0].Value != 42 {
		t.Fatalf("first batch: %+v", out.batches[0])
	}
	for i, b := range out.batches[1:] {
		if len(b) != 0 {
			t.Fatalf("batch %d after the sensor failed carries old readings: %+v", i+1, b)
		}
	}
}

func TestRunSkipsEmptySuccessfulReads(t *testing.T) {
	out := &recordingOutput{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	run(ctx, sensor.NewGroup(), []outputEntry{{Type: "rec", Output: out}}, time.Millisecond)
	if n := out.count(); n != 0 {
		t.Fatalf("got %d publishes with no sensors", n)
	}
}
