package driver

import (
	"errors"
	"fmt"
)

var (
	// ErrBus is matched by every *BusError.
	ErrBus = errors.New("bus error")
	// ErrTimeout is returned when a bounded wait ran out of budget.
	ErrTimeout = errors.New("timeout")
	// ErrSensorFault is returned when the chip reports a diagnostic fault.
	ErrSensorFault = errors.New("sensor fault")
	// ErrUnexpectedMode is returned when the chip is in a mode the driver does
	// not handle.
	ErrUnexpectedMode = errors.New("unexpected mode")
	// ErrStale is returned for stale data only when the driver was configured
	// to reject it.
	ErrStale = errors.New("stale data")
)

// BusError wraps a failure reported by the transport.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBus) true for any *BusError.
func (e *BusError) Is(target error) bool { return target == ErrBus }

// WrapBus returns nil when err is nil and a *BusError otherwise.
func WrapBus(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BusError{Op: op, Err: err}
}
