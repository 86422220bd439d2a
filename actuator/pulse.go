package actuator

import (
	"math"
	"time"
)

// ServoPulse maps an angle onto a pulse width by linear interpolation over the servo travel
func ServoPulse(angle, travel float64, minPulse, maxPulse time.Duration) time.Duration {
	ratio := math.Max(0, math.Min(1, angle/travel))
	return minPulse + time.Duration(ratio*float64(maxPulse-minPulse))
}

// LightDuty maps a 0-100 brightness onto the high time of one period, gamma corrected
func LightDuty(brightness, gamma float64, period time.Duration) time.Duration {
	if brightness <= 0 {
		return 0
	}
	corrected := math.Pow(math.Min(brightness, 100)/100.0, gamma)
	return time.Duration(corrected * float64(period))
}

// approach moves current toward target by at most step
func approach(current, target, step float64) float64 {
	diff := target - current
	if math.Abs(diff) <= step {
		return target
	}
	if diff > 0 {
		return current + step
	}
	return current - step
}

// effectiveWidth is the high time actually emitted for v: the nominal width
// less the switching compensation, never below zero. A pulse that fills the
// period has no falling edge to compensate and is returned as the full period.
func effectiveWidth(cfg Config, v float64, comp time.Duration) time.Duration {
	nominal := cfg.pulseWidth(v)
	if period := cfg.Period(); nominal >= period {
		return period
	}
	if width := nominal - comp; width > 0 {
		return width
	}
	return 0
}

// pulseWidth is the high time for value v, before latency compensation
func (c Config) pulseWidth(v float64) time.Duration {
	switch c.Kind {
	case Servo:
		return ServoPulse(c.clamp(v), c.TravelDegrees, c.MinPulse, c.MaxPulse)
	case Light:
		return LightDuty(c.clamp(v), c.Gamma, c.Period())
	default:
		if v >= 0.5 {
			return c.Period()
		}
		return 0
	}
}
