package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

type saveTask struct {
	path  string
	image gocv.Mat
}

// FrameSaver writes frames to a per-session directory from background
// workers. When the queue is full the frame is dropped.
type FrameSaver struct {
	dir       string
	sessionID string

	saveQueue   chan saveTask
	saveWorkers sync.WaitGroup
	stopOnce    sync.Once

	counter atomic.Int64
	saved   atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	log func(component, message string, tags ...string)
}

// NewFrameSaver creates baseDir/<session uuid> and starts the workers
func NewFrameSaver(baseDir string, workers, queueSize int, log func(string, string, ...string)) (*FrameSaver, error) {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 120 // 4 seconds at 30fps
	}
	if log == nil {
		log = func(string, string, ...string) {}
	}

	sessionID := uuid.New().String()
	dir := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}

	fs := &FrameSaver{
		dir:       dir,
		sessionID: sessionID,
		saveQueue: make(chan saveTask, queueSize),
		log:       log,
	}

	for i := 0; i < workers; i++ {
		fs.saveWorkers.Add(1)
		go fs.worker(i)
	}
	log("DEBUG", fmt.Sprintf("Saving frames to %s with %d workers", dir, workers))
	return fs, nil
}

func (fs *FrameSaver) worker(id int) {
	defer fs.saveWorkers.Done()
	for task := range fs.saveQueue {
		if gocv.IMWrite(task.path, task.image) {
			fs.saved.Add(1)
		} else {
			fs.failed.Add(1)
			fs.log("DEBUG", fmt.Sprintf("Worker %d failed to save image: %s", id, task.path))
		}
		task.image.Close()
	}
}

// Save queues a copy of frame as <prefix>_<counter>.jpg and returns the file
// name, or "" if the frame was dropped
func (fs *FrameSaver) Save(frame gocv.Mat, prefix string) string {
	if frame.Empty() {
		return ""
	}
	n := fs.counter.Add(1)
	name := fmt.Sprintf("%s_%05d.jpg", prefix, n)
	clone := frame.Clone()

	select {
	case fs.saveQueue <- saveTask{path: filepath.Join(fs.dir, name), image: clone}:
		return name
	default:
		clone.Close()
		if fs.dropped.Add(1)%30 == 1 {
			fs.log("DEBUG", fmt.Sprintf("Frame save queue full - dropped %d frames so far", fs.dropped.Load()))
		}
		return ""
	}
}

// Dir is the session directory
func (fs *FrameSaver) Dir() string { return fs.dir }

// SessionID is the uuid naming the session directory
func (fs *FrameSaver) SessionID() string { return fs.sessionID }

// Saved returns how many frames were written
func (fs *FrameSaver) Saved() int64 { return fs.saved.Load() }

// Dropped returns how many frames were skipped because the queue was full
func (fs *FrameSaver) Dropped() int64 { return fs.dropped.Load() }

// Stop waits for queued frames to be written. Save must not be called after Stop.
func (fs *FrameSaver) Stop() {
	fs.stopOnce.Do(func() {
		close(fs.saveQueue)
		fs.saveWorkers.Wait()
		fs.log("DEBUG", fmt.Sprintf("Frame saver stopped: %d saved, %d failed, %d dropped",
			fs.saved.Load(), fs.failed.Load(), fs.dropped.Load()))
	})
}
