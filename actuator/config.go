package actuator

import (
	"fmt"
	"math"
	"time"
)

// Kind selects how a value is turned into a waveform
type Kind int

const (
	// Servo maps an angle onto a pulse width between MinPulse and MaxPulse
	Servo Kind = iota
	// Light maps a 0-100 brightness onto a gamma corrected duty cycle
	Light
	// Switch holds a plain on/off level, value >= 0.5 means on
	Switch
)

func (k Kind) String() string {
	switch k {
	case Servo:
		return "servo"
	case Light:
		return "light"
	case Switch:
		return "switch"
	default:
		return "unknown"
	}
}

// Config describes one physical output
type Config struct {
	Name        string
	Pin         string
	Kind        Kind
	FrequencyHz float64

	// Calibrated bounds; every target and output value is clamped into [Min, Max]
	Min float64
	Max float64
	// Value the driver starts at
	Initial float64

	// Servo pulse mapping: an angle of 0 maps to MinPulse, TravelDegrees to MaxPulse
	MinPulse      time.Duration
	MaxPulse      time.Duration
	TravelDegrees float64

	// Light gamma exponent
	Gamma float64

	// Largest change of the output value per cycle
	MaxDeltaPerCycle float64

	// ActiveLow inverts the physical level (the laser module lights on LOW)
	ActiveLow bool

	// Calibrate measures pin switching latency once at start and subtracts it from pulses
	Calibrate          bool
	CalibrationSamples int

	// StopTimeout bounds how long Stop waits for the loop before forcing the safe level
	StopTimeout time.Duration
}

// ServoConfig returns SG90-style defaults: 50Hz, 0.5-2.5ms over 180 degrees, 2 degrees per cycle
func ServoConfig(name, pin string, min, max float64) Config {
	return Config{
		Name:               name,
		Pin:                pin,
		Kind:               Servo,
		FrequencyHz:        50,
		Min:                min,
		Max:                max,
		Initial:            (min + max) / 2,
		MinPulse:           500 * time.Microsecond,
		MaxPulse:           2500 * time.Microsecond,
		TravelDegrees:      180,
		MaxDeltaPerCycle:   2.0,
		Calibrate:          true,
		CalibrationSamples: 100,
		StopTimeout:        time.Second,
	}
}

// LightConfig returns LED defaults: 1kHz, brightness 0-100, gamma 2.2
func LightConfig(name, pin string) Config {
	return Config{
		Name:             name,
		Pin:              pin,
		Kind:             Light,
		FrequencyHz:      1000,
		Min:              0,
		Max:              100,
		Gamma:            2.2,
		MaxDeltaPerCycle: 5.0,
		StopTimeout:      time.Second,
	}
}

// SwitchConfig returns an on/off output polled at 100Hz
func SwitchConfig(name, pin string, activeLow bool) Config {
	return Config{
		Name:             name,
		Pin:              pin,
		Kind:             Switch,
		FrequencyHz:      100,
		Min:              0,
		Max:              1,
		MaxDeltaPerCycle: 1,
		ActiveLow:        activeLow,
		StopTimeout:      time.Second,
	}
}

// Period is the length of one cycle
func (c Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.FrequencyHz)
}

// Validate checks the configuration before any pin is touched
func (c Config) Validate() error {
	if c.Pin == "" {
		return fmt.Errorf("%w: %s: pin is empty", ErrInvalidConfig, c.Name)
	}
	if c.FrequencyHz <= 0 || math.IsNaN(c.FrequencyHz) || math.IsInf(c.FrequencyHz, 0) {
		return fmt.Errorf("%w: %s: frequency %v must be positive", ErrInvalidConfig, c.Name, c.FrequencyHz)
	}
	if !(c.Min < c.Max) {
		return fmt.Errorf("%w: %s: range [%v, %v] is empty", ErrInvalidConfig, c.Name, c.Min, c.Max)
	}
	if c.MaxDeltaPerCycle <= 0 {
		return fmt.Errorf("%w: %s: max delta per cycle %v must be positive", ErrInvalidConfig, c.Name, c.MaxDeltaPerCycle)
	}

	switch c.Kind {
	case Servo:
		if c.MinPulse <= 0 || c.MaxPulse <= c.MinPulse {
			return fmt.Errorf("%w: %s: pulse range %v-%v is invalid", ErrInvalidConfig, c.Name, c.MinPulse, c.MaxPulse)
		}
		if c.MaxPulse >= c.Period() {
			return fmt.Errorf("%w: %s: max pulse %v does not fit period %v", ErrInvalidConfig, c.Name, c.MaxPulse, c.Period())
		}
		if c.TravelDegrees <= 0 {
			return fmt.Errorf("%w: %s: travel %v must be positive", ErrInvalidConfig, c.Name, c.TravelDegrees)
		}
	case Light:
		if c.Gamma <= 0 {
			return fmt.Errorf("%w: %s: gamma %v must be positive", ErrInvalidConfig, c.Name, c.Gamma)
		}
	case Switch:
	default:
		return fmt.Errorf("%w: %s: unknown kind %d", ErrInvalidConfig, c.Name, c.Kind)
	}
	return nil
}

func (c Config) clamp(v float64) float64 {
	return math.Max(c.Min, math.Min(c.Max, v))
}
