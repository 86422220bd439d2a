// Package calibration measures how many image pixels the spot moves per
// degree of servo travel.
package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"lasertrack/ptz"
)

// Global debug function for calibration package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

// ErrNotEnoughSamples is returned when fewer than MinSamples spots were seen
var ErrNotEnoughSamples = errors.New("not enough calibration samples")

// MinSamples is the smallest sweep a fit is made from
const MinSamples = 3

// Sample is the spot position observed at one commanded angle
type Sample struct {
	Angle float64 `json:"angle"`
	Pixel float64 `json:"pixel"`
}

// Fit is the linear model pixel = Intercept + Slope*angle for one axis
type Fit struct {
	Axis            string   `json:"axis"`
	Intercept       float64  `json:"intercept"`
	Slope           float64  `json:"slope"`
	PixelsPerDegree float64  `json:"pixels_per_degree"`
	RSquared        float64  `json:"r_squared"`
	Direction       float64  `json:"direction"`
	Samples         []Sample `json:"samples"`
}

// FitAxis fits the samples of one axis. Direction is the sign the controller
// needs so that a positive pixel error moves the spot back.
func FitAxis(axis string, samples []Sample) (Fit, error) {
	if len(samples) < MinSamples {
		return Fit{}, fmt.Errorf("%w: %s has %d, need %d", ErrNotEnoughSamples, axis, len(samples), MinSamples)
	}

	angles := make([]float64, len(samples))
	pixels := make([]float64, len(samples))
	for i, s := range samples {
		angles[i], pixels[i] = s.Angle, s.Pixel
	}

	intercept, slope := stat.LinearRegression(angles, pixels, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) || slope == 0 {
		return Fit{}, fmt.Errorf("%s: spot did not move with the servo (slope %v)", axis, slope)
	}

	fit := Fit{
		Axis:            axis,
		Intercept:       intercept,
		Slope:           slope,
		PixelsPerDegree: math.Abs(slope),
		RSquared:        stat.RSquared(angles, pixels, nil, intercept, slope),
		Direction:       -math.Copysign(1, slope),
		Samples:         append([]Sample(nil), samples...),
	}
	return fit, nil
}

// SpotFunc captures a frame and reports where the spot is
type SpotFunc func(ctx context.Context) (image.Point, bool, error)

// Calibrator sweeps the rig and fits each axis
type Calibrator struct {
	rig     ptz.Rig
	spot    SpotFunc
	offsets []float64
	settle  time.Duration
}

// DefaultOffsets are the angles visited around the centre of each axis
var DefaultOffsets = []float64{-10, -6, -3, 0, 3, 6, 10}

// NewCalibrator creates a calibrator. settle is how long the servos get to
// reach each angle before the spot is measured.
func NewCalibrator(rig ptz.Rig, spot SpotFunc, offsets []float64, settle time.Duration) *Calibrator {
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	return &Calibrator{rig: rig, spot: spot, offsets: offsets, settle: settle}
}

// Result is the outcome of a full calibration
type Result struct {
	Timestamp time.Time `json:"timestamp"`
	Pan       Fit       `json:"pan"`
	Tilt      Fit       `json:"tilt"`
}

// Run sweeps pan with tilt centred, then tilt with pan centred
func (c *Calibrator) Run(ctx context.Context) (Result, error) {
	limits := c.rig.Limits()
	panCenter := (limits.PanMin + limits.PanMax) / 2
	tiltCenter := (limits.TiltMin + limits.TiltMax) / 2

	if err := c.rig.SetLaser(true); err != nil {
		return Result{}, fmt.Errorf("laser on: %w", err)
	}
	defer c.rig.SetLaser(false)

	pan, err := c.sweep(ctx, "pan", func(o float64) (float64, float64) {
		return clamp(panCenter+o, limits.PanMin, limits.PanMax), tiltCenter
	})
	if err != nil {
		return Result{}, err
	}

	tilt, err := c.sweep(ctx, "tilt", func(o float64) (float64, float64) {
		return panCenter, clamp(tiltCenter+o, limits.TiltMin, limits.TiltMax)
	})
	if err != nil {
		return Result{}, err
	}

	c.rig.SetAngles(panCenter, tiltCenter)
	return Result{Timestamp: time.Now(), Pan: pan, Tilt: tilt}, nil
}

func (c *Calibrator) sweep(ctx context.Context, axis string, angles func(offset float64) (pan, tilt float64)) (Fit, error) {
	samples := make([]Sample, 0, len(c.offsets))

	for _, o := range c.offsets {
		if err := ctx.Err(); err != nil {
			return Fit{}, err
		}
		pan, tilt := angles(o)
		if err := c.rig.SetAngles(pan, tilt); err != nil {
			return Fit{}, fmt.Errorf("%s sweep: %w", axis, err)
		}

		select {
		case <-ctx.Done():
			return Fit{}, ctx.Err()
		case <-time.After(c.settle):
		}

		p, ok, err := c.spot(ctx)
		if err != nil {
			return Fit{}, fmt.Errorf("%s sweep: %w", axis, err)
		}
		if !ok {
			debugMsg("CALIBRATION", fmt.Sprintf("%s: no spot at pan=%.1f tilt=%.1f", axis, pan, tilt))
			continue
		}

		s := Sample{Angle: pan, Pixel: float64(p.X)}
		if axis == "tilt" {
			s = Sample{Angle: tilt, Pixel: float64(p.Y)}
		}
		samples = append(samples, s)
		debugMsg("CALIBRATION", fmt.Sprintf("%s: %.1f deg -> %.0fpx", axis, s.Angle, s.Pixel))
	}

	fit, err := FitAxis(axis, samples)
	if err != nil {
		return Fit{}, err
	}
	debugMsg("CALIBRATION", fmt.Sprintf("%s: %.2f px/deg, direction %+.0f, R²=%.3f from %d samples",
		axis, fit.PixelsPerDegree, fit.Direction, fit.RSquared, len(fit.Samples)))
	return fit, nil
}

// ApplyTo copies the measured scale and direction into a controller config
func (r Result) ApplyTo(cfg *ptz.ControllerConfig) {
	cfg.Pan.PixelsPerDegree, cfg.Pan.Direction = r.Pan.PixelsPerDegree, r.Pan.Direction
	cfg.Tilt.PixelsPerDegree, cfg.Tilt.Direction = r.Tilt.PixelsPerDegree, r.Tilt.Direction
}

// Table renders the result for the console
func (r Result) Table() string {
	var b strings.Builder
	b.WriteString("┌──────┬───────────┬───────────┬────────┬─────────┐\n")
	b.WriteString("│ Axis │  px/deg   │ Direction │   R²   │ Samples │\n")
	b.WriteString("├──────┼───────────┼───────────┼────────┼─────────┤\n")
	for _, f := range []Fit{r.Pan, r.Tilt} {
		fmt.Fprintf(&b, "│ %-4s │ %9.2f │ %+9.0f │ %6.3f │ %7d │\n",
			f.Axis, f.PixelsPerDegree, f.Direction, f.RSquared, len(f.Samples))
	}
	b.WriteString("└──────┴───────────┴───────────┴────────┴─────────┘\n")
	return b.String()
}

// Save writes the result as indented JSON, creating the directory if needed
func (r Result) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	return nil
}

// Load reads a result written by Save
func Load(path string) (Result, error) {
	var r Result
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse %s: %w", path, err)
	}
	return r, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
