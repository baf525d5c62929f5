package bus

import "time"

// spinBelow is the shortest wait handed to the scheduler. Shorter waits spin
// since time.Sleep overshoots by tens of microseconds on Linux.
const spinBelow = 200 * time.Microsecond

// Delay is a driver.Delayer on the wall clock.
type Delay struct{}

func (Delay) DelayMicroseconds(n uint32) {
	wait(time.Duration(n) * time.Microsecond)
}

func (Delay) DelayMilliseconds(n uint32) {
	wait(time.Duration(n) * time.Millisecond)
}

func wait(d time.Duration) {
	if d >= spinBelow {
		time.Sleep(d)
		return
	}
	for start := time.Now(); time.Since(start) < d; {
	}
}
