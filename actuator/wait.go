package actuator

import "time"

const (
	// sleepThreshold is the shortest wait worth handing to the scheduler
	sleepThreshold = time.Millisecond
	// spinMargin is how early a sleep wakes up before the deadline
	spinMargin = 500 * time.Microsecond
)

// waitUntil blocks until deadline. Long waits sleep most of the way and spin
// the last spinMargin; short waits spin the whole time. Spinning burns a core
// in exchange for pulse edges that land within a few microseconds.
func waitUntil(deadline time.Time) {
	if remaining := time.Until(deadline); remaining > sleepThreshold {
		time.Sleep(remaining - spinMargin)
	}
	for time.Now().Before(deadline) {
	}
}
