package ptz

import (
	"errors"
	"fmt"

	"lasertrack/actuator"
)

// DirectRig drives every actuator from local pins, one pulse loop per pin
type DirectRig struct {
	limits Limits

	pan   *actuator.Driver
	tilt  *actuator.Driver
	head  *actuator.Driver
	laser *actuator.Driver
	eyes  *actuator.Driver
}

// NewDirectRig starts the five drivers. If any of them fails to start the
// ones already running are stopped again.
func NewDirectRig(bank actuator.PinBank, cfg DirectConfig) (*DirectRig, error) {
	pan := actuator.ServoConfig("pan", cfg.PanPin, cfg.Pan.Min, cfg.Pan.Max)
	tilt := actuator.ServoConfig("tilt", cfg.TiltPin, cfg.Tilt.Min, cfg.Tilt.Max)
	head := actuator.ServoConfig("head", cfg.HeadPin, cfg.HeadMin, cfg.HeadMax)
	head.Initial = cfg.HeadMin
	pan.Calibrate, tilt.Calibrate, head.Calibrate = cfg.Calibrate, cfg.Calibrate, cfg.Calibrate

	configs := []actuator.Config{
		pan,
		tilt,
		head,
		actuator.SwitchConfig("laser", cfg.LaserPin, cfg.LaserActiveLow),
		actuator.LightConfig("eyes", cfg.EyesPin),
	}

	drivers := make([]*actuator.Driver, 0, len(configs))
	for _, c := range configs {
		d, err := actuator.Start(bank, c)
		if err != nil {
			for _, started := range drivers {
				started.Stop()
			}
			return nil, fmt.Errorf("start %s: %w", c.Name, err)
		}
		drivers = append(drivers, d)
	}

	rig := &DirectRig{
		limits: Limits{
			PanMin:  cfg.Pan.Min,
			PanMax:  cfg.Pan.Max,
			TiltMin: cfg.Tilt.Min,
			TiltMax: cfg.Tilt.Max,
		},
		pan:   drivers[0],
		tilt:  drivers[1],
		head:  drivers[2],
		laser: drivers[3],
		eyes:  drivers[4],
	}

	debugMsg("RIG", fmt.Sprintf("Direct rig ready: %s, laser on %s (active-low=%v)",
		rig.limits, cfg.LaserPin, cfg.LaserActiveLow))
	return rig, nil
}

// SetAngles requests new pan and tilt angles. It reports the error that
// stopped either axis; the other axis is still updated.
func (r *DirectRig) SetAngles(pan, tilt float64) error {
	r.pan.SetTarget(pan)
	r.tilt.SetTarget(tilt)
	return errors.Join(r.pan.Err(), r.tilt.Err())
}

// SetLaser switches the laser diode
func (r *DirectRig) SetLaser(on bool) error {
	v := 0.0
	if on {
		v = 1
	}
	r.laser.SetTarget(v)
	return r.laser.Err()
}

// SetHead turns the head servo
func (r *DirectRig) SetHead(angle float64) error {
	r.head.SetTarget(angle)
	return r.head.Err()
}

// SetEyes sets the eye brightness, 0-100
func (r *DirectRig) SetEyes(brightness float64) error {
	r.eyes.SetTarget(brightness)
	return r.eyes.Err()
}

// Limits returns the calibrated pan and tilt ranges
func (r *DirectRig) Limits() Limits {
	return r.limits
}

// Drivers returns the running drivers, laser included
func (r *DirectRig) Drivers() []*actuator.Driver {
	return []*actuator.Driver{r.pan, r.tilt, r.head, r.laser, r.eyes}
}

// Close stops every driver, laser first, and parks each pin at its safe level
func (r *DirectRig) Close() error {
	var errs []error
	for _, d := range []*actuator.Driver{r.laser, r.eyes, r.pan, r.tilt, r.head} {
		if err := d.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	debugMsg("RIG", "Direct rig stopped")
	return errors.Join(errs...)
}
