package actuator

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphBank drives real GPIO lines through periph.io.
// Lines are resolved once in Configure; Write only does a sync.Map load so the
// pulse loop never contends on a mutex.
type PeriphBank struct {
	lines sync.Map // pin name -> gpio.PinIO
}

// NewPeriphBank initializes the periph host drivers
func NewPeriphBank() (*PeriphBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: periph host init: %v", ErrHardwareIO, err)
	}
	return &PeriphBank{}, nil
}

// Configure resolves the pin by name and sets its direction and initial level
func (b *PeriphBank) Configure(pin string, mode Mode, initial Level) error {
	line := gpioreg.ByName(pin)
	if line == nil {
		return fmt.Errorf("%w: unknown pin %q", ErrInvalidConfig, pin)
	}

	switch mode {
	case Output:
		if err := line.Out(gpio.Level(initial)); err != nil {
			return fmt.Errorf("%w: %s out(%s): %v", ErrHardwareIO, pin, initial, err)
		}
	case Input:
		if err := line.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("%w: %s in: %v", ErrHardwareIO, pin, err)
		}
	default:
		return fmt.Errorf("%w: pin %s: unsupported mode %v", ErrInvalidConfig, pin, mode)
	}

	b.lines.Store(pin, line)
	debugMsg("GPIO", fmt.Sprintf("Pin %s configured as %s (initial %s)", pin, mode, initial))
	return nil
}

// Write sets the output level of a configured pin
func (b *PeriphBank) Write(pin string, level Level) error {
	v, ok := b.lines.Load(pin)
	if !ok {
		return fmt.Errorf("%w: pin %s not configured", ErrHardwareIO, pin)
	}
	if err := v.(gpio.PinIO).Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("%w: %s write %s: %v", ErrHardwareIO, pin, level, err)
	}
	return nil
}

// Release halts the pin and forgets it
func (b *PeriphBank) Release(pin string) error {
	v, ok := b.lines.LoadAndDelete(pin)
	if !ok {
		debugMsg("GPIO", fmt.Sprintf("Release of pin %s which was not configured", pin))
		return nil
	}
	if err := v.(gpio.PinIO).Halt(); err != nil {
		return fmt.Errorf("%w: %s halt: %v", ErrHardwareIO, pin, err)
	}
	debugMsg("GPIO", fmt.Sprintf("Pin %s released", pin))
	return nil
}
