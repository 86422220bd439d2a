package ptz

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"lasertrack/tracking"
)

// Global debug function for PTZ package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

// ErrInvalidConfig is returned for unusable controller or rig settings
var ErrInvalidConfig = errors.New("invalid ptz config")

// AxisConfig describes one servo axis as seen from the camera
type AxisConfig struct {
	Min             float64 // degrees
	Max             float64 // degrees
	PixelsPerDegree float64
	// Direction maps a positive pixel error onto the angle change, +1 or -1
	Direction float64
}

// Center returns the middle of the axis range
func (a AxisConfig) Center() float64 {
	return (a.Min + a.Max) / 2
}

// Clamp limits angle to the axis range
func (a AxisConfig) Clamp(angle float64) float64 {
	return clamp(angle, a.Min, a.Max)
}

// ControllerConfig holds the tracking controller tuning
type ControllerConfig struct {
	Pan            AxisConfig
	Tilt           AxisConfig
	MinStep        float64 // degrees per accepted command
	MaxStep        float64 // degrees per accepted command
	DeadbandPx     float64
	MaxFrequencyHz float64
	LaserEnabled   bool
}

// DefaultControllerConfig returns the tuning of the doll mount
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Pan:            AxisConfig{Min: 30, Max: 150, PixelsPerDegree: 50, Direction: 1},
		Tilt:           AxisConfig{Min: 0, Max: 120, PixelsPerDegree: 15, Direction: -1},
		MinStep:        0.8,
		MaxStep:        20,
		DeadbandPx:     10,
		MaxFrequencyHz: 10,
		LaserEnabled:   true,
	}
}

// Validate checks the tuning
func (c ControllerConfig) Validate() error {
	for name, axis := range map[string]AxisConfig{"pan": c.Pan, "tilt": c.Tilt} {
		if axis.Min >= axis.Max {
			return fmt.Errorf("%w: %s limits [%.1f, %.1f]", ErrInvalidConfig, name, axis.Min, axis.Max)
		}
		if axis.PixelsPerDegree <= 0 {
			return fmt.Errorf("%w: %s pixels per degree %.2f", ErrInvalidConfig, name, axis.PixelsPerDegree)
		}
		if axis.Direction != 1 && axis.Direction != -1 {
			return fmt.Errorf("%w: %s direction %.0f must be 1 or -1", ErrInvalidConfig, name, axis.Direction)
		}
	}
	if c.MinStep <= 0 || c.MaxStep < c.MinStep {
		return fmt.Errorf("%w: step range [%.2f, %.2f]", ErrInvalidConfig, c.MinStep, c.MaxStep)
	}
	if c.DeadbandPx < 0 {
		return fmt.Errorf("%w: deadband %.1f", ErrInvalidConfig, c.DeadbandPx)
	}
	if c.MaxFrequencyHz <= 0 {
		return fmt.Errorf("%w: max frequency %.1f", ErrInvalidConfig, c.MaxFrequencyHz)
	}
	return nil
}

// Command is what the controller wants the rig to do
type Command struct {
	Pan      float64
	Tilt     float64
	LaserOn  bool
	Accepted bool // false means nothing new needs to be written
	IssuedAt time.Time
	StepPan  float64 // signed change applied to pan
	StepTilt float64 // signed change applied to tilt
}

func (c Command) String() string {
	laser := "off"
	if c.LaserOn {
		laser = "on"
	}
	return fmt.Sprintf("pan=%.1f tilt=%.1f (%+.1f, %+.1f) laser=%s", c.Pan, c.Tilt, c.StepPan, c.StepTilt, laser)
}

// Controller converts the laser and target positions into bounded,
// rate-limited angle commands
type Controller struct {
	cfg         ControllerConfig
	minInterval time.Duration

	mutex        sync.Mutex
	pan          float64
	tilt         float64
	laserOn      bool
	enabled      bool
	last         Command
	lastAccepted time.Time
}

// NewController creates a controller with both axes centred
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:         cfg,
		minInterval: time.Duration(float64(time.Second) / cfg.MaxFrequencyHz),
		enabled:     cfg.LaserEnabled,
	}
	c.pan, c.tilt = cfg.Pan.Center(), cfg.Tilt.Center()
	c.last = Command{Pan: c.pan, Tilt: c.tilt}

	debugMsg("CONTROLLER", fmt.Sprintf("Initialized with limits: Pan(%.0f-%.0f) Tilt(%.0f-%.0f), step %.1f-%.1f deg, deadband %.0fpx, %.0fHz",
		cfg.Pan.Min, cfg.Pan.Max, cfg.Tilt.Min, cfg.Tilt.Max, cfg.MinStep, cfg.MaxStep, cfg.DeadbandPx, cfg.MaxFrequencyHz))
	return c, nil
}

// Config returns the controller tuning
func (c *Controller) Config() ControllerConfig {
	return c.cfg
}

// Step computes the next command. A nil laser or target holds the angles with
// the laser off; that command only needs writing when it turns the laser off.
func (c *Controller) Step(laser, target *tracking.Point, now time.Time) Command {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if laser == nil || target == nil {
		cmd := Command{Pan: c.pan, Tilt: c.tilt, IssuedAt: now}
		if c.laserOn {
			cmd.Accepted = true
			c.laserOn = false
			c.lastAccepted = now
			debugMsg("CONTROLLER", "No laser or target - holding position, laser off")
		}
		c.last = cmd
		return cmd
	}

	if !c.lastAccepted.IsZero() && now.Sub(c.lastAccepted) < c.minInterval {
		prev := c.last
		prev.Accepted = false
		return prev
	}

	stepPan := c.axisStep(laser.X-target.X, c.cfg.Pan)
	stepTilt := c.axisStep(laser.Y-target.Y, c.cfg.Tilt)

	pan := c.cfg.Pan.Clamp(c.pan + stepPan)
	tilt := c.cfg.Tilt.Clamp(c.tilt + stepTilt)

	cmd := Command{
		Pan:      pan,
		Tilt:     tilt,
		LaserOn:  c.enabled,
		Accepted: true,
		IssuedAt: now,
		StepPan:  pan - c.pan,
		StepTilt: tilt - c.tilt,
	}

	c.pan, c.tilt = pan, tilt
	c.laserOn = cmd.LaserOn
	c.last = cmd
	c.lastAccepted = now
	return cmd
}

// Hold repeats the last angles and laser state. Nothing needs writing.
func (c *Controller) Hold(now time.Time) Command {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Command{Pan: c.pan, Tilt: c.tilt, LaserOn: c.laserOn, IssuedAt: now}
}

// axisStep returns the signed angle change for one axis, zero inside the deadband
func (c *Controller) axisStep(errPx float64, axis AxisConfig) float64 {
	if math.Abs(errPx) <= c.cfg.DeadbandPx {
		return 0
	}
	step := clamp(math.Abs(errPx)/axis.PixelsPerDegree, c.cfg.MinStep, c.cfg.MaxStep)
	return math.Copysign(step, errPx) * axis.Direction
}

// SetLaserEnabled is the external override for the laser; it takes effect on
// the next tracked step
func (c *Controller) SetLaserEnabled(enabled bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.enabled != enabled {
		debugMsg("CONTROLLER", fmt.Sprintf("Laser enabled: %v", enabled))
	}
	c.enabled = enabled
}

// LaserEnabled reports the override
func (c *Controller) LaserEnabled() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.enabled
}

// Angles returns the last commanded angles
func (c *Controller) Angles() (pan, tilt float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pan, c.tilt
}

// Reset recentres both axes and returns the command to write, laser off
func (c *Controller) Reset(now time.Time) Command {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.pan, c.tilt = c.cfg.Pan.Center(), c.cfg.Tilt.Center()
	c.laserOn = false
	c.last = Command{Pan: c.pan, Tilt: c.tilt, Accepted: true, IssuedAt: now}
	c.lastAccepted = now

	debugMsg("CONTROLLER", fmt.Sprintf("Reset to centre: pan=%.1f tilt=%.1f", c.pan, c.tilt))
	return c.last
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
