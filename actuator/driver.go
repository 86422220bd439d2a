package actuator

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Global debug function for actuator package
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

// Driver regenerates a fixed-frequency waveform on one pin for as long as it runs.
//
// The target is a single atomically replaced value: SetTarget never blocks and
// the loop only ever sees the latest write. Everything else the loop touches is
// owned by the loop goroutine, which is locked to its own OS thread.
type Driver struct {
	cfg    Config
	bank   PinBank
	period time.Duration

	target  atomic.Uint64 // float64 bits
	current atomic.Uint64 // float64 bits, mirror of the loop-owned value
	running atomic.Bool
	cycles  atomic.Uint64

	compensation atomic.Int64 // nanoseconds

	done     chan struct{}
	failure  error // written by the loop before done is closed
	stopOnce sync.Once
	stopErr  error
}

// Start validates cfg, configures the pin at its idle level and launches the pulse loop
func Start(bank PinBank, cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Second
	}
	if cfg.CalibrationSamples <= 0 {
		cfg.CalibrationSamples = 100
	}

	d := &Driver{
		cfg:    cfg,
		bank:   bank,
		period: cfg.Period(),
		done:   make(chan struct{}),
	}

	if err := bank.Configure(cfg.Pin, Output, d.physical(false)); err != nil {
		return nil, fmt.Errorf("%s: configure pin %s: %w", cfg.Name, cfg.Pin, err)
	}

	initial := cfg.clamp(cfg.Initial)
	d.target.Store(math.Float64bits(initial))
	d.current.Store(math.Float64bits(initial))
	d.running.Store(true)

	debugMsg("ACTUATOR", fmt.Sprintf("%s: starting %s on %s at %.0fHz (period %v, range %.1f-%.1f)",
		cfg.Name, cfg.Kind, cfg.Pin, cfg.FrequencyHz, d.period, cfg.Min, cfg.Max))

	go d.loop()
	return d, nil
}

// SetTarget requests a new output value; it is clamped to the calibrated range
func (d *Driver) SetTarget(v float64) {
	if math.IsNaN(v) {
		return
	}
	d.target.Store(math.Float64bits(d.cfg.clamp(v)))
}

// Target returns the most recently requested value
func (d *Driver) Target() float64 {
	return math.Float64frombits(d.target.Load())
}

// Current returns the value being output on the most recent cycle
func (d *Driver) Current() float64 {
	return math.Float64frombits(d.current.Load())
}

// Moving reports whether the output has not yet reached the target
func (d *Driver) Moving() bool {
	return math.Abs(d.Current()-d.Target()) > 0.1
}

func (d *Driver) Name() string   { return d.cfg.Name }
func (d *Driver) Config() Config { return d.cfg }
func (d *Driver) Cycles() uint64 { return d.cycles.Load() }
func (d *Driver) Running() bool  { return d.running.Load() }

// Done is closed when the loop has exited
func (d *Driver) Done() <-chan struct{} { return d.done }

// Compensation returns the measured switching latency subtracted from pulses
func (d *Driver) Compensation() time.Duration {
	return time.Duration(d.compensation.Load())
}

// Err returns the error that terminated the loop, if it has terminated on one
func (d *Driver) Err() error {
	select {
	case <-d.done:
		return d.failure
	default:
		return nil
	}
}

// Stop ends the loop, waits up to StopTimeout for it, then drives the pin to
// its safe level and releases it regardless of how the loop exited.
func (d *Driver) Stop() error {
	d.stopOnce.Do(func() {
		d.running.Store(false)

		select {
		case <-d.done:
		case <-time.After(d.cfg.StopTimeout):
			debugMsg("ACTUATOR_WARN", fmt.Sprintf("%s: loop did not exit within %v, forcing safe level", d.cfg.Name, d.cfg.StopTimeout))
		}

		var errs []error
		if err := d.bank.Write(d.cfg.Pin, d.physical(false)); err != nil {
			errs = append(errs, fmt.Errorf("%s: safe level: %w", d.cfg.Name, err))
		}
		if err := d.bank.Release(d.cfg.Pin); err != nil {
			errs = append(errs, fmt.Errorf("%s: release: %w", d.cfg.Name, err))
		}
		d.stopErr = errors.Join(errs...)

		debugMsg("ACTUATOR", fmt.Sprintf("%s: stopped after %d cycles", d.cfg.Name, d.cycles.Load()))
	})
	return d.stopErr
}

// physical converts a logical on/off into the level on the wire
func (d *Driver) physical(on bool) Level {
	return Level(on != d.cfg.ActiveLow)
}

func (d *Driver) write(on bool) error {
	if err := d.bank.Write(d.cfg.Pin, d.physical(on)); err != nil {
		if errors.Is(err, ErrHardwareIO) {
			return fmt.Errorf("%s: pin %s: %w", d.cfg.Name, d.cfg.Pin, err)
		}
		return fmt.Errorf("%w: %s: pin %s: %w", ErrHardwareIO, d.cfg.Name, d.cfg.Pin, err)
	}
	return nil
}

func (d *Driver) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.done)

	if d.cfg.Calibrate && d.cfg.Kind != Switch {
		comp, err := MeasureSwitchingLatency(d.bank, d.cfg.Pin, d.cfg.CalibrationSamples)
		if err != nil {
			d.fail(fmt.Errorf("%s: calibration: %w", d.cfg.Name, err))
			return
		}
		d.compensation.Store(int64(comp))
		debugMsg("ACTUATOR", fmt.Sprintf("%s: switching compensation %v", d.cfg.Name, comp))
	}

	current := d.Current()
	lastOn := false
	first := true

	for d.running.Load() {
		target := math.Float64frombits(d.target.Load())
		current = approach(current, target, d.cfg.MaxDeltaPerCycle)
		d.current.Store(math.Float64bits(current))

		cycleStart := time.Now()
		var err error
		if d.cfg.Kind == Switch {
			err = d.holdLevel(current >= 0.5, &lastOn, &first)
		} else {
			err = d.pulse(cycleStart, current)
		}
		if err != nil {
			d.fail(err)
			return
		}

		d.cycles.Add(1)
		waitUntil(cycleStart.Add(d.period))
	}
}

// pulse emits one high pulse of the width encoding v, starting at cycleStart
func (d *Driver) pulse(cycleStart time.Time, v float64) error {
	width := effectiveWidth(d.cfg, v, d.Compensation())
	if width == 0 {
		return d.write(false)
	}
	if err := d.write(true); err != nil {
		return err
	}
	if width >= d.period {
		// full duty, stay high through the period
		return nil
	}
	waitUntil(cycleStart.Add(width))
	return d.write(false)
}

// holdLevel writes the switch level only when it changes
func (d *Driver) holdLevel(on bool, lastOn, first *bool) error {
	if !*first && on == *lastOn {
		return nil
	}
	if err := d.write(on); err != nil {
		return err
	}
	*lastOn = on
	*first = false
	return nil
}

func (d *Driver) fail(err error) {
	d.failure = err
	d.running.Store(false)
	debugMsg("ACTUATOR_ERROR", err.Error())
}
