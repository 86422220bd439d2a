package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"lasertrack/ptz"
	"lasertrack/tracking"

	"gocv.io/x/gocv"
)

// debugMsgFunc is a function that will be set by main package to use unified logging
var debugMsgFunc func(component, message string, tags ...string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string, tags ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

// DecisionLogEntry represents a single decision log entry for the terminal
type DecisionLogEntry struct {
	Timestamp time.Time
	Message   string
	Type      string // "MODE", "COMMAND", "FILTER", "RIG"
	Priority  int    // 0=normal, 1=important, 2=critical
}

// TrackingDecision is what the controller decided for one frame
type TrackingDecision struct {
	Laser   *tracking.Point // filtered laser position, nil when lost
	Target  *tracking.Point
	Command ptz.Command
	Event   tracking.Event
}

// Renderer handles visualization and overlay rendering
type Renderer struct {
	historyColor  color.RGBA
	decisionColor color.RGBA
	targetColor   color.RGBA
	militaryGreen color.RGBA
	targetRed     color.RGBA
	systemBlue    color.RGBA
	animationTime float64 // For time-based animations

	mutex              sync.Mutex
	decisionHistory    []DecisionLogEntry
	maxDecisionHistory int
	lastDecisionUpdate time.Time
}

// NewRenderer creates a new overlay renderer
func NewRenderer() *Renderer {
	return &Renderer{
		historyColor:       color.RGBA{0, 255, 0, 180},   // Semi-transparent green for history
		decisionColor:      color.RGBA{255, 255, 0, 255}, // Bright yellow for decision info
		targetColor:        color.RGBA{255, 0, 255, 255}, // Bright magenta for target position
		militaryGreen:      color.RGBA{0, 255, 0, 255},
		targetRed:          color.RGBA{255, 0, 0, 255},
		systemBlue:         color.RGBA{0, 150, 255, 255},
		decisionHistory:    make([]DecisionLogEntry, 0),
		maxDecisionHistory: 20,
	}
}

// UpdateAnimation advances the animation time for smooth effects
func (r *Renderer) UpdateAnimation(deltaTime float64) {
	r.animationTime += deltaTime * 1000.0 // Convert to milliseconds

	// Keep animation time bounded to prevent float overflow
	if r.animationTime > 1000.0 {
		r.animationTime -= 1000.0
	}
}

// DrawSpot draws the raw detection, the filtered estimate and its history
func (r *Renderer) DrawSpot(img *gocv.Mat, state tracking.FilterState) {
	if state.RawFound {
		gocv.Circle(img, state.Raw, 3, r.targetRed, -1)
	}

	r.DrawTrackingPath(img, state.History)

	if !state.Tracked {
		gocv.PutText(img, "LASER: LOST", image.Point{20, img.Rows() - 20},
			gocv.FontHersheySimplex, 0.5, r.targetRed, 1)
		return
	}

	center := state.Smoothed.Image()
	rotation := r.animationTime / 1000.0 * 2 * math.Pi
	r.drawRotatingReticle(img, center, 18, rotation, r.militaryGreen)
	gocv.Circle(img, center, 6, r.militaryGreen, 1)

	label := fmt.Sprintf("LASER: %s %s", state.Smoothed, state.Event)
	if state.ConsecutiveOutliers > 0 {
		label += fmt.Sprintf(" outliers=%d", state.ConsecutiveOutliers)
	}
	gocv.PutText(img, label, image.Point{20, img.Rows() - 20},
		gocv.FontHersheySimplex, 0.5, r.militaryGreen, 1)
}

// DrawTrackingPath draws the recent filtered positions
func (r *Renderer) DrawTrackingPath(img *gocv.Mat, history []tracking.Point) {
	if len(history) <= 1 {
		return // Need at least 2 points for a path
	}

	for i := 1; i < len(history); i++ {
		prev := history[i-1].Image()
		curr := history[i].Image()
		gocv.Line(img, prev, curr, r.historyColor, 2)
		gocv.Circle(img, curr, 2, color.RGBA{0, 255, 0, 200}, -1)
	}
}

// DrawTarget marks where the laser should go
func (r *Renderer) DrawTarget(img *gocv.Mat, target *tracking.Point) {
	if target == nil {
		return
	}
	p := target.Image()
	size := 12
	gocv.Line(img, image.Point{p.X - size, p.Y}, image.Point{p.X + size, p.Y}, r.targetColor, 2)
	gocv.Line(img, image.Point{p.X, p.Y - size}, image.Point{p.X, p.Y + size}, r.targetColor, 2)
	gocv.Circle(img, p, 8, r.targetColor, 1)
	gocv.PutText(img, "TARGET", image.Point{p.X + 15, p.Y - 10},
		gocv.FontHersheySimplex, 0.5, r.targetColor, 1)
}

// DrawTrackingDecision draws the error vector and the command sent to the rig
func (r *Renderer) DrawTrackingDecision(img *gocv.Mat, decision *TrackingDecision) {
	if decision == nil {
		return
	}

	// Frame center crosshair
	frameCenter := image.Point{img.Cols() / 2, img.Rows() / 2}
	crosshairSize := 20
	gocv.Line(img,
		image.Point{frameCenter.X - crosshairSize, frameCenter.Y},
		image.Point{frameCenter.X + crosshairSize, frameCenter.Y},
		color.RGBA{255, 255, 255, 150}, 1)
	gocv.Line(img,
		image.Point{frameCenter.X, frameCenter.Y - crosshairSize},
		image.Point{frameCenter.X, frameCenter.Y + crosshairSize},
		color.RGBA{255, 255, 255, 150}, 1)

	r.DrawTarget(img, decision.Target)

	if decision.Laser != nil && decision.Target != nil {
		laser, target := decision.Laser.Image(), decision.Target.Image()
		r.drawDashedLine(img, laser, target, r.decisionColor, 1)

		distance := decision.Laser.Dist(*decision.Target)
		if distance > 20 { // Only show if meaningful distance
			midPoint := image.Point{(laser.X + target.X) / 2, (laser.Y+target.Y)/2 - 15}
			gocv.PutText(img, fmt.Sprintf("%.0fpx", distance), midPoint,
				gocv.FontHersheySimplex, 0.4, r.decisionColor, 1)
		}
	}

	cmdColor := r.systemBlue
	if !decision.Command.Accepted {
		cmdColor = color.RGBA{128, 128, 128, 255}
	}
	gocv.PutText(img, decision.Command.String(), image.Point{20, img.Rows() - 40},
		gocv.FontHersheySimplex, 0.5, cmdColor, 1)
}

// drawDashedLine draws a dashed line between two points
func (r *Renderer) drawDashedLine(img *gocv.Mat, start, end image.Point, c color.RGBA, thickness int) {
	dx := float64(end.X - start.X)
	dy := float64(end.Y - start.Y)
	length := math.Sqrt(dx*dx + dy*dy)
	angle := math.Atan2(dy, dx)

	dashLength := 10.0
	gapLength := 5.0

	for current := 0.0; current < length; current += dashLength + gapLength {
		dashStart := image.Point{
			X: start.X + int(current*math.Cos(angle)),
			Y: start.Y + int(current*math.Sin(angle)),
		}
		dashEnd := image.Point{
			X: start.X + int(math.Min(current+dashLength, length)*math.Cos(angle)),
			Y: start.Y + int(math.Min(current+dashLength, length)*math.Sin(angle)),
		}
		gocv.Line(img, dashStart, dashEnd, c, thickness)
	}
}

// drawRotatingReticle draws rotating targeting reticle
func (r *Renderer) drawRotatingReticle(img *gocv.Mat, center image.Point, size int, rotation float64, c color.RGBA) {
	for i := 0; i < 4; i++ {
		angle := rotation + float64(i)*math.Pi/2

		x1 := center.X + int(float64(size)*math.Cos(angle))
		y1 := center.Y + int(float64(size)*math.Sin(angle))
		x2 := center.X + int(float64(size-5)*math.Cos(angle))
		y2 := center.Y + int(float64(size-5)*math.Sin(angle))

		gocv.Line(img, image.Point{x1, y1}, image.Point{x2, y2}, c, 2)
	}
}

// LogDecision adds a decision to the terminal history
func (r *Renderer) LogDecision(message, decisionType string, priority int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	r.decisionHistory = append(r.decisionHistory, DecisionLogEntry{
		Timestamp: now,
		Message:   message,
		Type:      decisionType,
		Priority:  priority,
	})

	// Keep only recent entries
	if len(r.decisionHistory) > r.maxDecisionHistory {
		r.decisionHistory = r.decisionHistory[len(r.decisionHistory)-r.maxDecisionHistory:]
	}
	r.lastDecisionUpdate = now

	if priority >= 2 {
		debugMsg("OVERLAY", fmt.Sprintf("[%s] %s", decisionType, message))
	}
}

// DecisionHistory returns a copy of the recent decisions, oldest first
func (r *Renderer) DecisionHistory() []DecisionLogEntry {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]DecisionLogEntry(nil), r.decisionHistory...)
}

// LastDecision returns when the most recent decision was logged, zero if none
func (r *Renderer) LastDecision() time.Time {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lastDecisionUpdate
}

// DrawDecisionTerminal draws a terminal-like box with the recent decisions,
// followed by the logger history when one is given
func (r *Renderer) DrawDecisionTerminal(img *gocv.Mat, debugLogger interface{}) {
	lines := make([]string, 0, 30)
	for _, entry := range r.DecisionHistory() {
		lines = append(lines, fmt.Sprintf("%s %-7s %s", entry.Timestamp.Format("15:04:05"), entry.Type, entry.Message))
	}
	if dl, ok := debugLogger.(interface{ GetOverlayHistory() []string }); ok {
		lines = append(lines, dl.GetOverlayHistory()...)
	}

	maxMessages := 30
	if len(lines) > maxMessages {
		lines = lines[len(lines)-maxMessages:]
	}

	if last := r.LastDecision(); !last.IsZero() {
		header := fmt.Sprintf("DECISIONS (last %.1fs ago)", time.Since(last).Seconds())
		lines = append([]string{header}, lines...)
	}

	terminalX, terminalY := 20, 20
	terminalWidth := 650
	lineHeight := 14
	terminalHeight := len(lines)*lineHeight + 20

	gocv.Rectangle(img, image.Rect(terminalX, terminalY, terminalX+terminalWidth, terminalY+terminalHeight),
		color.RGBA{0, 0, 0, 180}, -1)

	contentY := terminalY + 18
	if len(lines) == 0 {
		gocv.PutText(img, "No debug messages available...", image.Point{terminalX + 10, contentY},
			gocv.FontHersheySimplex, 0.4, color.RGBA{128, 128, 128, 255}, 1)
		return
	}

	maxLineLen := 110
	for _, line := range lines {
		if len(line) > maxLineLen {
			line = line[:maxLineLen-3] + "..."
		}
		gocv.PutText(img, line, image.Point{terminalX + 10, contentY},
			gocv.FontHersheySimplex, 0.35, color.RGBA{255, 255, 255, 255}, 1)
		contentY += lineHeight
	}
}
