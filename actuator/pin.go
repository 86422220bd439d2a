package actuator

import (
	"errors"
)

var (
	// ErrInvalidConfig is returned when a driver or pin is configured with values it cannot run with
	ErrInvalidConfig = errors.New("invalid actuator configuration")

	// ErrHardwareIO wraps any failure reported by the pin layer
	ErrHardwareIO = errors.New("hardware I/O error")
)

// Level is the logic level of a digital output
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Mode is the direction a pin is configured for
type Mode int

const (
	Output Mode = iota
	Input
)

func (m Mode) String() string {
	switch m {
	case Output:
		return "OUTPUT"
	case Input:
		return "INPUT"
	default:
		return "UNKNOWN"
	}
}

// PinBank is the digital pin abstraction used by every Driver.
// Pins are addressed by name ("GPIO12", "P1_33", ...) so the same driver code
// works against real GPIO, the simulator, or anything else that can toggle a line.
type PinBank interface {
	Configure(pin string, mode Mode, initial Level) error
	Write(pin string, level Level) error
	Release(pin string) error
}
