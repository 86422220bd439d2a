package tracking

import (
	"fmt"
	"image"
	"math"
	"time"
)

// TrackingMode represents the current mode of the filter
type TrackingMode int

const (
	ModeLost TrackingMode = iota
	ModeTracking
)

func (m TrackingMode) String() string {
	if m == ModeTracking {
		return "TRACKING"
	}
	return "LOST"
}

// Point is a sub-pixel image coordinate
type Point struct {
	X float64
	Y float64
}

// PointFrom converts an integer image point
func PointFrom(p image.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// Image rounds to the nearest pixel
func (p Point) Image() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// Dist returns the euclidean distance between two points
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

// Event describes what the last Update did with its sample
type Event int

const (
	EventNone Event = iota
	// EventSeeded: first detection after Lost, taken as is
	EventSeeded
	// EventAccepted: within the outlier threshold, blended into the estimate
	EventAccepted
	// EventRejected: beyond the threshold and not yet confirmed
	EventRejected
	// EventRecovered: enough consecutive outliers to treat the jump as real
	EventRecovered
	// EventMissed: no detection, estimate held
	EventMissed
	// EventLost: no detection for longer than the memory timeout
	EventLost
)

func (e Event) String() string {
	switch e {
	case EventSeeded:
		return "seeded"
	case EventAccepted:
		return "accepted"
	case EventRejected:
		return "rejected"
	case EventRecovered:
		return "recovered"
	case EventMissed:
		return "missed"
	case EventLost:
		return "lost"
	default:
		return "none"
	}
}

// Fresh reports whether the event carried a new position into the estimate
func (e Event) Fresh() bool {
	return e == EventSeeded || e == EventAccepted || e == EventRecovered
}

// FilterState is a snapshot of the filter after one Update.
// It owns its History slice; the filter never touches it again.
type FilterState struct {
	Raw                 image.Point
	RawFound            bool
	Smoothed            Point
	History             []Point
	ConsecutiveOutliers int
	LastUpdate          time.Time
	Tracked             bool
	Event               Event
}

// Mode reports the macro state of the snapshot
func (s FilterState) Mode() TrackingMode {
	if s.Tracked {
		return ModeTracking
	}
	return ModeLost
}

// Target returns the smoothed coordinate, or nil when nothing is tracked
func (s FilterState) Target() *Point {
	if !s.Tracked {
		return nil
	}
	p := s.Smoothed
	return &p
}
