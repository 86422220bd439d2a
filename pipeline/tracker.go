// Package pipeline runs the per-frame loop: detect the spot, filter it, step
// the controller and write accepted commands to the rig.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"lasertrack/detection"
	"lasertrack/overlay"
	"lasertrack/ptz"
	"lasertrack/tracking"
)

// Global debug function for pipeline package
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

// Publisher receives one snapshot per processed frame
type Publisher interface {
	Publish(v any) error
}

// FrameSink stores annotated frames
type FrameSink interface {
	Save(frame gocv.Mat, prefix string) string
}

// Snapshot is the outcome of one frame
type Snapshot struct {
	Seq        int64           `json:"seq"`
	Time       time.Time       `json:"time"`
	Found      bool            `json:"found"`
	Raw        image.Point     `json:"raw"`
	Strategy   string          `json:"strategy"`
	Threshold  int             `json:"threshold"`
	Confidence float64         `json:"confidence"`
	Tracked    bool            `json:"tracked"`
	Smoothed   tracking.Point  `json:"smoothed"`
	Event      string          `json:"event"`
	Outliers   int             `json:"outliers"`
	Target     *tracking.Point `json:"target,omitempty"`
	Pan        float64         `json:"pan"`
	Tilt       float64         `json:"tilt"`
	LaserOn    bool            `json:"laser_on"`
	Accepted   bool            `json:"accepted"`
	RigErrors  uint64          `json:"rig_errors"`
}

// Options are the optional collaborators of a Tracker
type Options struct {
	Renderer  *overlay.Renderer // draws diagnostics on the annotated frame
	Terminal  interface{}       // source of log lines for the overlay terminal
	Saver     FrameSink
	Publisher Publisher
	Stats     *Stats
	// StatsInterval is how often throughput is logged by Run, 0 disables it
	StatsInterval time.Duration
}

// Tracker owns one detector, filter, controller and rig. It is driven from a
// single goroutine.
type Tracker struct {
	detector   detection.Detector
	filter     *tracking.Filter
	controller *ptz.Controller
	rig        ptz.Rig
	opts       Options

	hint      detection.DetectorState
	seq       int64
	tracked   bool
	rigErrors uint64
	last      Snapshot
	lastFrame time.Time
}

// NewTracker wires the loop together
func NewTracker(detector detection.Detector, filter *tracking.Filter, controller *ptz.Controller, rig ptz.Rig, opts Options) *Tracker {
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	return &Tracker{
		detector:   detector,
		filter:     filter,
		controller: controller,
		rig:        rig,
		opts:       opts,
	}
}

// Process handles one frame. target is where the laser should go; nil turns
// the laser off. Frames whose detection was missed or rejected hold the mount
// where it is until the filter either takes a new position or loses the spot.
func (t *Tracker) Process(frame gocv.Mat, target *tracking.Point, now time.Time) Snapshot {
	detectStart := time.Now()
	det, annotated := t.detector.Detect(frame, t.hint)
	defer annotated.Close()
	t.hint = t.hint.Observe(det)
	detectTime := time.Since(detectStart)

	controlStart := time.Now()
	state := t.filter.Update(det, now)
	var cmd ptz.Command
	if state.Tracked && target != nil && !state.Event.Fresh() {
		// held estimate, no new evidence to step on
		cmd = t.controller.Hold(now)
	} else {
		cmd = t.controller.Step(state.Target(), target, now)
	}

	if cmd.Accepted {
		if err := ptz.Apply(t.rig, cmd); err != nil {
			t.rigErrors++
			debugMsg("RIG_ERROR", fmt.Sprintf("Command %s failed (%d errors so far): %v", cmd, t.rigErrors, err))
		}
	}
	t.opts.Stats.UpdateProcess(detectTime, time.Since(controlStart), cmd.Accepted)

	t.logTransitions(state, cmd)

	if r := t.opts.Renderer; r != nil && !annotated.Empty() {
		if !t.lastFrame.IsZero() {
			r.UpdateAnimation(now.Sub(t.lastFrame).Seconds())
		}
		r.DrawSpot(&annotated, state)
		r.DrawTrackingDecision(&annotated, &overlay.TrackingDecision{
			Laser:   state.Target(),
			Target:  target,
			Command: cmd,
			Event:   state.Event,
		})
		if t.opts.Terminal != nil {
			r.DrawDecisionTerminal(&annotated, t.opts.Terminal)
		}
	}
	if t.opts.Saver != nil && !annotated.Empty() {
		t.opts.Saver.Save(annotated, "frame")
	}
	t.lastFrame = now

	snap := Snapshot{
		Seq:        t.seq,
		Time:       now,
		Found:      det.Found,
		Raw:        det.Center,
		Strategy:   det.Strategy.String(),
		Threshold:  det.Threshold,
		Confidence: det.Confidence,
		Tracked:    state.Tracked,
		Smoothed:   state.Smoothed,
		Event:      state.Event.String(),
		Outliers:   state.ConsecutiveOutliers,
		Target:     target,
		Pan:        cmd.Pan,
		Tilt:       cmd.Tilt,
		LaserOn:    cmd.LaserOn,
		Accepted:   cmd.Accepted,
		RigErrors:  t.rigErrors,
	}
	t.seq++
	t.last = snap

	if t.opts.Publisher != nil {
		if err := t.opts.Publisher.Publish(snap); err != nil {
			debugMsg("PIPELINE", fmt.Sprintf("Publish failed: %v", err))
		}
	}
	return snap
}

func (t *Tracker) logTransitions(state tracking.FilterState, cmd ptz.Command) {
	r := t.opts.Renderer

	if state.Tracked != t.tracked {
		t.tracked = state.Tracked
		mode := state.Mode().String()
		debugMsg("PIPELINE", fmt.Sprintf("Mode -> %s (%s)", mode, state.Event))
		if r != nil {
			r.LogDecision("mode "+mode, "MODE", 1)
		}
	}
	if r == nil {
		return
	}
	switch state.Event {
	case tracking.EventRejected:
		r.LogDecision(fmt.Sprintf("outlier %v rejected (%d)", state.Raw, state.ConsecutiveOutliers), "FILTER", 0)
	case tracking.EventRecovered:
		r.LogDecision(fmt.Sprintf("recovered at %v", state.Smoothed), "FILTER", 1)
	}
	if cmd.Accepted && (cmd.StepPan != 0 || cmd.StepTilt != 0) {
		r.LogDecision(cmd.String(), "COMMAND", 0)
	}
}

// RigErrors returns how many rig writes failed
func (t *Tracker) RigErrors() uint64 {
	return t.rigErrors
}

// Last returns the most recent snapshot
func (t *Tracker) Last() Snapshot {
	return t.last
}

// Stats returns the stage statistics
func (t *Tracker) Stats() *Stats {
	return t.opts.Stats
}

// Run processes frames until ctx is cancelled or the source ends. The laser
// is switched off on the way out.
func (t *Tracker) Run(ctx context.Context, src FrameSource, targets TargetSource) error {
	defer t.laserOff()

	var statsTick <-chan time.Time
	if t.opts.StatsInterval > 0 {
		ticker := time.NewTicker(t.opts.StatsInterval)
		defer ticker.Stop()
		statsTick = ticker.C
	}

	debugMsg("PIPELINE", "Tracking loop started")
	for {
		select {
		case <-ctx.Done():
			debugMsg("PIPELINE", "Tracking loop stopping: context cancelled")
			return nil

		case <-statsTick:
			r := t.opts.Stats.GetStats()
			debugMsg("PERF", fmt.Sprintf("Capture: %.1f fps (read %v) | Process: %.1f fps (detect %v, control %v) | dropped %d, commands %d, rig errors %d",
				r.CaptureFPS, r.AvgRead, r.ProcessFPS, r.AvgDetect, r.AvgControl, r.Dropped, r.Commands, t.rigErrors))

		case f, ok := <-src.Frames():
			if !ok {
				if err := src.Err(); err != nil {
					return fmt.Errorf("frame source: %w", err)
				}
				return nil
			}
			t.Process(f.Mat, targets.Target(f), f.Time)
			f.Mat.Close()
		}
	}
}

func (t *Tracker) laserOff() {
	now := time.Now()
	cmd := t.controller.Step(nil, nil, now)
	if err := ptz.Apply(t.rig, cmd); err != nil {
		debugMsg("RIG_ERROR", fmt.Sprintf("Failed to apply final hold: %v", err))
	}
	if err := t.rig.SetLaser(false); err != nil {
		debugMsg("RIG_ERROR", fmt.Sprintf("Failed to switch laser off: %v", err))
	}
	debugMsg("PIPELINE", fmt.Sprintf("Tracking loop ended after %d frames, laser off", t.seq))
}
