package actuator

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// MeasureSwitchingLatency toggles pin high then low samples times and returns
// the average cost of a single transition. The pin is left low.
func MeasureSwitchingLatency(bank PinBank, pin string, samples int) (time.Duration, error) {
	if samples <= 0 {
		return 0, fmt.Errorf("%w: calibration samples %d must be positive", ErrInvalidConfig, samples)
	}

	roundTrips := make([]float64, 0, samples)
	for i := 0; i < samples; i++ {
		start := time.Now()
		if err := bank.Write(pin, High); err != nil {
			return 0, err
		}
		if err := bank.Write(pin, Low); err != nil {
			return 0, err
		}
		roundTrips = append(roundTrips, float64(time.Since(start)))
	}

	// two transitions per sample
	return time.Duration(stat.Mean(roundTrips, nil) / 2), nil
}
