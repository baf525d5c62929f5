package hx711

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/driver"
)

// fakeChip shifts out value on rising clock edges and reports ready once busy
// ready checks have elapsed.
type fakeChip struct {
	value   uint32
	busy    int
	rises   int
	clock   driver.Level
	readErr error
	clkErr  error
}

func (f *fakeChip) SetClock(l driver.Level) error {
	if f.clkErr != nil {
		return f.clkErr
	}
	if l == driver.High && f.clock == driver.Low {
		f.rises++
	}
	f.clock = l
	return nil
}

func (f *fakeChip) ReadData() (driver.Level, error) {
	if f.readErr != nil {
		return driver.Low, f.readErr
	}
	if f.rises == 0 {
		if f.busy > 0 {
			f.busy--
			return driver.High, nil
		}
		return driver.Low, nil
	}
	if f.rises > dataBits {
		return driver.High, nil
	}
	bit := (f.value >> uint(dataBits-f.rises)) & 1
	return driver.Level(bit == 1), nil
}

// take returns the rising edges of the last frame and starts a new one.
func (f *fakeChip) take() int {
	n := f.rises
	f.rises = 0
	return n
}

type fakeDelay struct {
	us uint64
}

func (f *fakeDelay) DelayMicroseconds(n uint32) { f.us += uint64(n) }
func (f *fakeDelay) DelayMilliseconds(n uint32) { f.us += uint64(n) * 1000 }

func newDev(t *testing.T, c *fakeChip, o *Opts) *Dev {
	t.Helper()
	d, err := New(c, &fakeDelay{}, o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestReadRawSignExtension(t *testing.T) {
	tests := []struct {
		bits uint32
		want int32
	}{
		{0x000000, 0},
		{0xFFFFFF, -1},
		{0x800000, -8388608},
		{0x7FFFFF, 8388607},
		{0x000001, 1},
		{0xFFFF38, -200},
	}
	for _, tt := range tests {
		c := &fakeChip{value: tt.bits}
		d := newDev(t, c, nil)
		got, err := d.ReadRaw()
		if err != nil {
			t.Fatalf("0x%06X: %v", tt.bits, err)
		}
		if got != tt.want {
			t.Fatalf("0x%06X: got %d want %d", tt.bits, got, tt.want)
		}
		if n := c.take(); n != dataBits+1 {
			t.Fatalf("0x%06X: %d clock pulses", tt.bits, n)
		}
	}
}

func TestSignExtendRoundTrip(t *testing.T) {
	for _, v := range []int32{-1, -8388608, 8388607, 0, 12345, -54321} {
		if got := signExtend24(uint32(v) & 0xFFFFFF); got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}

func TestGainPulses(t *testing.T) {
	tests := []struct {
		ch     Channel
		g      Gain
		pulses int
		ok     bool
	}{
		{ChannelA, Gain128, 1, true},
		{ChannelB, Gain32, 2, true},
		{ChannelA, Gain64, 3, true},
		{ChannelB, Gain128, 0, false},
		{ChannelA, Gain32, 0, false},
		{ChannelB, Gain64, 0, false},
		{Channel(5), Gain128, 0, false},
	}
	for _, tt := range tests {
		n, err := gainPulses(tt.ch, tt.g)
		if (err == nil) != tt.ok {
			t.Fatalf("gainPulses(%s, %d) err=%v", tt.ch, tt.g, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidGain) {
			t.Fatalf("gainPulses(%s, %d) err=%v, want ErrInvalidGain", tt.ch, tt.g, err)
		}
		if n != tt.pulses {
			t.Fatalf("gainPulses(%s, %d) = %d want %d", tt.ch, tt.g, n, tt.pulses)
		}
	}
}

func TestGainPersistsAcrossReads(t *testing.T) {
	c := &fakeChip{value: 0x000100}
	d := newDev(t, c, nil)

	if _, err := d.ReadRaw(); err != nil {
		t.Fatal(err)
	}
	if n := c.take(); n != 25 {
		t.Fatalf("default selection: %d pulses", n)
	}

	if err := d.SetGain(ChannelB, Gain32); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := d.ReadRaw(); err != nil {
			t.Fatal(err)
		}
		if n := c.take(); n != 26 {
			t.Fatalf("read %d after B/32: %d pulses", i, n)
		}
	}

	if err := d.SetGain(ChannelB, Gain64); err == nil {
		t.Fatal("expected error for B/64")
	}
	if ch, g := d.Gain(); ch != ChannelB || g != Gain32 {
		t.Fatalf("failed SetGain changed selection to %s/%d", ch, g)
	}

	if err := d.SetGain(ChannelA, Gain64); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadRaw(); err != nil {
		t.Fatal(err)
	}
	if n := c.take(); n != 27 {
		t.Fatalf("A/64: %d pulses", n)
	}
}

func TestReadyWait(t *testing.T) {
	c := &fakeChip{value: 5, busy: 10}
	dl := &fakeDelay{}
	d, err := New(c, dl, &Opts{Gain: Gain128, PollInterval: 2 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	v, err := d.ReadRaw()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 5 {
		t.Fatalf("got %d", v)
	}
	// 10 polls of 2ms plus 2µs per clock pulse.
	if want := uint64(10*2000 + 25*2); dl.us != want {
		t.Fatalf("delayed %dus want %dus", dl.us, want)
	}
}

func TestReadyTimeout(t *testing.T) {
	c := &fakeChip{busy: 1 << 30}
	d, err := New(c, &fakeDelay{}, &Opts{ReadyTimeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadRaw(); !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("got %v want timeout", err)
	}
	if c.rises != 0 {
		t.Fatalf("timed out read clocked %d pulses", c.rises)
	}
	if c.busy != 1<<30-5 {
		t.Fatalf("polled %d times, want 5", 1<<30-c.busy)
	}
}

func TestBusErrors(t *testing.T) {
	cause := errors.New("gpio gone")

	c := &fakeChip{}
	d := newDev(t, c, nil)
	c.readErr = cause
	if _, err := d.ReadRaw(); !errors.Is(err, driver.ErrBus) || !errors.Is(err, cause) {
		t.Fatalf("read error: got %v", err)
	}

	c = &fakeChip{}
	d = newDev(t, c, nil)
	c.clkErr = cause
	if _, err := d.ReadWeight(); !errors.Is(err, driver.ErrBus) {
		t.Fatalf("clock error: got %v", err)
	}
	if err := d.Tare(); !errors.Is(err, driver.ErrBus) {
		t.Fatalf("tare: got %v", err)
	}
}

func TestTareThenWeightIsZero(t *testing.T) {
	c := &fakeChip{value: 0xFFF000}
	d := newDev(t, c, &Opts{Gain: Gain128, Scale: 0.0042})
	if err := d.Tare(); err != nil {
		t.Fatal(err)
	}
	c.take()
	if d.Offset() != signExtend24(0xFFF000) {
		t.Fatalf("offset %d", d.Offset())
	}
	w, err := d.ReadWeight()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(w) > 1e-9 {
		t.Fatalf("weight after tare: %v", w)
	}
}

func TestReadWeightScale(t *testing.T) {
	c := &fakeChip{value: 1000}
	d := newDev(t, c, &Opts{Gain: Gain128, Scale: 0.5, Offset: -200})
	w, err := d.ReadWeight()
	if err != nil {
		t.Fatal(err)
	}
	if w != 600 {
		t.Fatalf("got %v want 600", w)
	}
	if err := d.SetScale(0); err == nil {
		t.Fatal("expected error for zero scale")
	}
	if err := d.SetScale(2); err != nil || d.Scale() != 2 {
		t.Fatalf("SetScale: %v scale=%v", err, d.Scale())
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(&fakeChip{}, &fakeDelay{}, &Opts{Channel: ChannelB, Gain: Gain128}); !errors.Is(err, ErrInvalidGain) {
		t.Fatalf("got %v want ErrInvalidGain", err)
	}
	if _, err := New(nil, &fakeDelay{}, nil); err == nil {
		t.Fatal("expected error for nil bus")
	}
	c := &fakeChip{clock: driver.High}
	if _, err := New(c, &fakeDelay{}, nil); err != nil {
		t.Fatal(err)
	}
	if c.clock != driver.Low {
		t.Fatal("New must leave PD_SCK low")
	}
}

func TestPowerDownUp(t *testing.T) {
	c := &fakeChip{}
	dl := &fakeDelay{}
	d, err := New(c, dl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.PowerDown(); err != nil {
		t.Fatal(err)
	}
	if c.clock != driver.High || dl.us < 60 {
		t.Fatalf("power down: clock=%s delay=%dus", c.clock, dl.us)
	}
	if err := d.PowerUp(); err != nil {
		t.Fatal(err)
	}
	if c.clock != driver.Low {
		t.Fatalf("power up: clock=%s", c.clock)
	}
}

func TestParseChannel(t *testing.T) {
	for in, want := range map[string]Channel{"": ChannelA, "a": ChannelA, "A": ChannelA, "B": ChannelB, "b": ChannelB} {
		got, err := ParseChannel(in)
		if err != nil || got != want {
			t.Fatalf("ParseChannel(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseChannel("C"); err == nil {
		t.Fatal("expected error for channel C")
	}
	if err := CheckGain(ChannelB, Gain32); err != nil {
		t.Fatal(err)
	}
	if err := CheckGain(ChannelB, Gain128); !errors.Is(err, ErrInvalidGain) {
		t.Fatalf("got %v", err)
	}
}
