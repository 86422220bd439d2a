package pipeline

import (
	"sync"
	"time"
)

// Stats tracks throughput and timing of each pipeline stage
type Stats struct {
	mu             sync.Mutex
	captureCount   int64
	droppedCount   int64
	processCount   int64
	commandCount   int64
	lastReportTime time.Time

	readTimeTotal    time.Duration
	detectTimeTotal  time.Duration
	controlTimeTotal time.Duration
}

// Report is one window of Stats
type Report struct {
	CaptureFPS float64
	ProcessFPS float64
	Dropped    int64
	Commands   int64
	AvgRead    time.Duration
	AvgDetect  time.Duration
	AvgControl time.Duration
}

// NewStats creates a new pipeline statistics tracker
func NewStats() *Stats {
	return &Stats{lastReportTime: time.Now()}
}

// UpdateCapture records one frame read
func (s *Stats) UpdateCapture(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureCount++
	s.readTimeTotal += duration
}

// UpdateDropped records a frame dropped because the tracker was busy
func (s *Stats) UpdateDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedCount++
}

// UpdateProcess records one processed frame
func (s *Stats) UpdateProcess(detect, control time.Duration, commanded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processCount++
	s.detectTimeTotal += detect
	s.controlTimeTotal += control
	if commanded {
		s.commandCount++
	}
}

// GetStats returns the statistics since the last call and resets the counters
func (s *Stats) GetStats() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	window := now.Sub(s.lastReportTime).Seconds()
	if window <= 0 {
		window = 1.0 // Prevent division by zero
	}

	r := Report{
		CaptureFPS: float64(s.captureCount) / window,
		ProcessFPS: float64(s.processCount) / window,
		Dropped:    s.droppedCount,
		Commands:   s.commandCount,
	}
	if s.captureCount > 0 {
		r.AvgRead = s.readTimeTotal / time.Duration(s.captureCount)
	}
	if s.processCount > 0 {
		r.AvgDetect = s.detectTimeTotal / time.Duration(s.processCount)
		r.AvgControl = s.controlTimeTotal / time.Duration(s.processCount)
	}

	s.captureCount, s.droppedCount, s.processCount, s.commandCount = 0, 0, 0, 0
	s.readTimeTotal, s.detectTimeTotal, s.controlTimeTotal = 0, 0, 0
	s.lastReportTime = now
	return r
}
