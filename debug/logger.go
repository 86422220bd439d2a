// Package debug provides the console logger every package reports through and
// an asynchronous saver for annotated frames.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Message is one logged line
type Message struct {
	Timestamp time.Time
	Component string
	Message   string
	Tag       string
}

// String formats the message the way it is printed
func (m Message) String() string {
	s := fmt.Sprintf("[%s][%s] %s", m.Timestamp.Format("15:04:05.000"), m.Component, m.Message)
	if m.Tag != "" {
		s += " (" + m.Tag + ")"
	}
	return s
}

type writeTask struct {
	content string
}

// Logger prints tagged lines to the console, keeps the most recent ones for
// the overlay terminal and, when a log directory is set, appends them to a
// session file from a background writer.
type Logger struct {
	out     io.Writer
	verbose bool

	mu             sync.RWMutex
	overlayHistory []Message
	maxOverlayMsgs int

	file          *os.File
	writeQueue    chan writeTask
	workerStopped sync.WaitGroup
	closeOnce     sync.Once
	dropped       int
}

// NewLogger creates a console logger writing to out (stdout when nil)
func NewLogger(out io.Writer, verbose bool) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		out:            out,
		verbose:        verbose,
		overlayHistory: make([]Message, 0),
		maxOverlayMsgs: 50, // Keep last 50 messages for overlay
	}
}

// OpenFile starts mirroring every message into dir/name
func (l *Logger) OpenFile(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.mu.Lock()
	l.file = f
	l.writeQueue = make(chan writeTask, 100)
	l.mu.Unlock()

	l.workerStopped.Add(1)
	go l.fileWriteWorker(f, l.writeQueue)
	return nil
}

// Msg is the function handed to each package's SetDebugFunction
func (l *Logger) Msg(component, message string, tags ...string) {
	msg := Message{Timestamp: time.Now(), Component: component, Message: message}
	if len(tags) > 0 {
		msg.Tag = tags[0]
	}
	line := msg.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.out, line)

	l.overlayHistory = append(l.overlayHistory, msg)
	if len(l.overlayHistory) > l.maxOverlayMsgs {
		l.overlayHistory = l.overlayHistory[1:] // Remove oldest
	}

	if l.writeQueue != nil {
		select {
		case l.writeQueue <- writeTask{content: line + "\n"}:
		default:
			// Queue full, drop message to prevent blocking
			l.dropped++
		}
	}
}

// Verbose logs only when the logger was created verbose
func (l *Logger) Verbose(component, message string, tags ...string) {
	if l.verbose {
		l.Msg(component, message, tags...)
	}
}

// GetOverlayHistory returns recent messages for overlay terminal as clean strings
func (l *Logger) GetOverlayHistory() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := make([]string, len(l.overlayHistory))
	for i, msg := range l.overlayHistory {
		history[i] = fmt.Sprintf("[%s] %s", msg.Component, msg.Message)
	}
	return history
}

// Recent returns up to n of the latest messages, oldest first
func (l *Logger) Recent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.overlayHistory) || n <= 0 {
		n = len(l.overlayHistory)
	}
	return append([]Message(nil), l.overlayHistory[len(l.overlayHistory)-n:]...)
}

func (l *Logger) fileWriteWorker(f *os.File, queue <-chan writeTask) {
	defer l.workerStopped.Done()
	for task := range queue {
		f.WriteString(task.content)
	}
}

// Close flushes and closes the log file, if any
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		queue, f := l.writeQueue, l.file
		l.writeQueue, l.file = nil, nil
		l.mu.Unlock()

		if queue == nil {
			return
		}
		close(queue)
		l.workerStopped.Wait()
		err = f.Close()
	})
	return err
}
