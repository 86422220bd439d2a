package pipeline

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"lasertrack/tracking"
)

// Frame is one captured image. The consumer owns Mat and must close it.
type Frame struct {
	Mat  gocv.Mat
	Seq  int64
	Time time.Time
}

// FrameSource produces frames until it fails or is closed. The channel is
// closed when the source ends; Err then reports why.
type FrameSource interface {
	Frames() <-chan Frame
	Err() error
}

// TargetSource says where the laser should point for a given frame.
// A nil target means nothing should be illuminated.
type TargetSource interface {
	Target(frame Frame) *tracking.Point
}

// FixedTarget always returns the same point
type FixedTarget struct {
	Point tracking.Point
}

func (t FixedTarget) Target(Frame) *tracking.Point {
	p := t.Point
	return &p
}

// CenterTarget aims at the middle of every frame
type CenterTarget struct{}

func (CenterTarget) Target(f Frame) *tracking.Point {
	if f.Mat.Empty() {
		return nil
	}
	return &tracking.Point{X: float64(f.Mat.Cols()) / 2, Y: float64(f.Mat.Rows()) / 2}
}

// CaptureSource reads a camera or video file on its own goroutine. The
// channel holds a couple of frames; when the consumer falls behind new frames
// are dropped instead of queued.
type CaptureSource struct {
	webcam *gocv.VideoCapture
	frames chan Frame
	stats  *Stats

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// OpenCapture opens device, which is either a camera index or a file/stream path
func OpenCapture(device string, stats *Stats) (*CaptureSource, error) {
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", device, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("open capture %s: device not opened", device)
	}
	// low latency: keep only the newest frame in the driver
	webcam.Set(gocv.VideoCaptureBufferSize, 1)

	if stats == nil {
		stats = NewStats()
	}
	cs := &CaptureSource{
		webcam: webcam,
		frames: make(chan Frame, 2),
		stats:  stats,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	debugMsg("CAPTURE", fmt.Sprintf("Opened %s (%.0fx%.0f @ %.0ffps)", device,
		webcam.Get(gocv.VideoCaptureFrameWidth), webcam.Get(gocv.VideoCaptureFrameHeight), webcam.Get(gocv.VideoCaptureFPS)))

	go cs.captureFrames()
	return cs, nil
}

func (cs *CaptureSource) captureFrames() {
	defer close(cs.done)
	defer close(cs.frames)

	var seq int64
	for {
		select {
		case <-cs.stop:
			return
		default:
		}

		readStart := time.Now()
		img := gocv.NewMat()
		if ok := cs.webcam.Read(&img); !ok {
			img.Close()
			cs.setErr(fmt.Errorf("failed to read frame from capture"))
			return
		}
		if img.Empty() || img.Channels() != 3 {
			img.Close()
			continue
		}
		cs.stats.UpdateCapture(time.Since(readStart))

		select {
		case cs.frames <- Frame{Mat: img, Seq: seq, Time: time.Now()}:
			seq++
		default:
			// consumer busy, drop this frame
			img.Close()
			cs.stats.UpdateDropped()
		}
	}
}

func (cs *CaptureSource) setErr(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.err = err
}

// Frames returns the frame channel
func (cs *CaptureSource) Frames() <-chan Frame { return cs.frames }

// Err reports why the source ended, nil after Close
func (cs *CaptureSource) Err() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.err
}

// Close stops capturing, releases queued frames and the device
func (cs *CaptureSource) Close() error {
	cs.stopOnce.Do(func() {
		close(cs.stop)
		// unblock a pending read of the channel
		for f := range cs.frames {
			f.Mat.Close()
		}
		<-cs.done
		cs.webcam.Close()
	})
	return nil
}
