package tracking

import (
	"errors"
	"fmt"
	"time"

	"lasertrack/detection"
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("invalid filter config")

// Global debug function for tracking package
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

// Config holds the filter tuning
type Config struct {
	Alpha            float64       // EMA weight of a new accepted sample
	OutlierThreshold float64       // pixels from the estimate before a sample is an outlier
	RecoveryCount    int           // consecutive outliers that confirm a real jump
	RecoveryAlpha    float64       // EMA weight used when a jump is confirmed
	MemoryTimeout    time.Duration // how long the estimate survives without detections
	HistorySize      int
}

// DefaultConfig returns the tuning used on the installation
func DefaultConfig() Config {
	return Config{
		Alpha:            0.3,
		OutlierThreshold: 50,
		RecoveryCount:    3,
		RecoveryAlpha:    1.0,
		MemoryTimeout:    time.Second,
		HistorySize:      10,
	}
}

// Validate checks the tuning is usable
func (c Config) Validate() error {
	switch {
	case c.Alpha <= 0 || c.Alpha > 1:
		return fmt.Errorf("%w: alpha %.2f outside (0, 1]", ErrInvalidConfig, c.Alpha)
	case c.RecoveryAlpha <= 0 || c.RecoveryAlpha > 1:
		return fmt.Errorf("%w: recovery alpha %.2f outside (0, 1]", ErrInvalidConfig, c.RecoveryAlpha)
	case c.OutlierThreshold <= 0:
		return fmt.Errorf("%w: outlier threshold %.1f must be positive", ErrInvalidConfig, c.OutlierThreshold)
	case c.RecoveryCount < 1:
		return fmt.Errorf("%w: recovery count %d must be at least 1", ErrInvalidConfig, c.RecoveryCount)
	case c.MemoryTimeout <= 0:
		return fmt.Errorf("%w: memory timeout %v must be positive", ErrInvalidConfig, c.MemoryTimeout)
	case c.HistorySize < 1:
		return fmt.Errorf("%w: history size %d must be at least 1", ErrInvalidConfig, c.HistorySize)
	}
	return nil
}

// Filter turns a stream of raw detections into a smoothed, outlier-rejected
// estimate. It is owned by the controller goroutine and is not safe for
// concurrent use; Update hands out snapshots instead.
type Filter struct {
	cfg Config

	raw        detection.RawDetection
	smoothed   Point
	history    *History
	outliers   int
	lastUpdate time.Time
	tracked    bool
}

// NewFilter creates a filter in the Lost state
func NewFilter(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Filter{
		cfg:     cfg,
		history: NewHistory(cfg.HistorySize),
	}, nil
}

// Config returns the filter tuning
func (f *Filter) Config() Config {
	return f.cfg
}

// Update folds one detection into the estimate and returns a snapshot
func (f *Filter) Update(raw detection.RawDetection, now time.Time) FilterState {
	f.raw = raw

	if !raw.Found {
		if f.tracked && now.Sub(f.lastUpdate) > f.cfg.MemoryTimeout {
			debugMsg("FILTER", fmt.Sprintf("Lost laser at %v after %v without detection",
				f.smoothed, now.Sub(f.lastUpdate).Round(time.Millisecond)))
			f.lose()
			return f.snapshot(EventLost)
		}
		return f.snapshot(EventMissed)
	}

	c := PointFrom(raw.Center)

	if !f.tracked {
		f.seed(c, now)
		debugMsg("FILTER", fmt.Sprintf("Seeded at %v (%s, threshold %d)", c, raw.Strategy, raw.Threshold))
		return f.snapshot(EventSeeded)
	}

	if c.Dist(f.smoothed) <= f.cfg.OutlierThreshold {
		f.history.Add(c)
		f.smoothed = blend(f.smoothed, c, f.cfg.Alpha)
		f.outliers = 0
		f.lastUpdate = now
		return f.snapshot(EventAccepted)
	}

	f.outliers++
	if f.outliers < f.cfg.RecoveryCount {
		debugMsg("FILTER_OUTLIER", fmt.Sprintf("Rejected %v, %.0fpx from %v (%d/%d)",
			c, c.Dist(f.smoothed), f.smoothed, f.outliers, f.cfg.RecoveryCount))
		return f.snapshot(EventRejected)
	}

	debugMsg("FILTER", fmt.Sprintf("Recovered: jump %v -> %v confirmed after %d outliers", f.smoothed, c, f.outliers))
	f.smoothed = blend(f.smoothed, c, f.cfg.RecoveryAlpha)
	f.history.Clear()
	f.history.Add(c)
	f.outliers = 0
	f.lastUpdate = now
	return f.snapshot(EventRecovered)
}

// Reset drops all state and returns to Lost
func (f *Filter) Reset() {
	f.raw = detection.RawDetection{}
	f.lose()
	f.lastUpdate = time.Time{}
}

// Tracked reports whether the filter currently has a usable estimate
func (f *Filter) Tracked() bool {
	return f.tracked
}

func (f *Filter) seed(c Point, now time.Time) {
	f.smoothed = c
	f.history.Clear()
	f.history.Add(c)
	f.outliers = 0
	f.lastUpdate = now
	f.tracked = true
}

func (f *Filter) lose() {
	f.tracked = false
	f.smoothed = Point{}
	f.history.Clear()
	f.outliers = 0
}

func (f *Filter) snapshot(ev Event) FilterState {
	return FilterState{
		Raw:                 f.raw.Center,
		RawFound:            f.raw.Found,
		Smoothed:            f.smoothed,
		History:             f.history.Points(),
		ConsecutiveOutliers: f.outliers,
		LastUpdate:          f.lastUpdate,
		Tracked:             f.tracked,
		Event:               ev,
	}
}

func blend(prev, next Point, alpha float64) Point {
	return Point{
		X: alpha*next.X + (1-alpha)*prev.X,
		Y: alpha*next.Y + (1-alpha)*prev.Y,
	}
}
