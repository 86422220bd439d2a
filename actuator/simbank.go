package actuator

import (
	"fmt"
	"sync"
	"time"
)

// SimBank is an in-memory PinBank. It records every transition so tests and
// dry runs can inspect what would have been sent to the hardware.
type SimBank struct {
	mu   sync.Mutex
	pins map[string]*simPin

	failPin   string
	failAfter int // writes to failPin that succeed before one failure
}

type simPin struct {
	mode       Mode
	level      Level
	configured bool
	released   bool
	writes     int
	rising     int
	lastRise   time.Time
	lastPulse  time.Duration
}

// NewSimBank creates an empty simulator
func NewSimBank() *SimBank {
	return &SimBank{pins: make(map[string]*simPin)}
}

// FailAfter makes the (n+1)-th write to pin fail once
func (b *SimBank) FailAfter(pin string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPin = pin
	b.failAfter = n
}

func (b *SimBank) Configure(pin string, mode Mode, initial Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pins[pin] = &simPin{mode: mode, level: initial, configured: true}
	return nil
}

func (b *SimBank) Write(pin string, level Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pins[pin]
	if !ok || !p.configured {
		return fmt.Errorf("%w: pin %s not configured", ErrHardwareIO, pin)
	}

	if b.failPin == pin {
		if b.failAfter == 0 {
			b.failPin = ""
			return fmt.Errorf("%w: simulated write failure on %s", ErrHardwareIO, pin)
		}
		b.failAfter--
	}

	now := time.Now()
	if level == High && p.level == Low {
		p.rising++
		p.lastRise = now
	}
	if level == Low && p.level == High && !p.lastRise.IsZero() {
		p.lastPulse = now.Sub(p.lastRise)
	}
	p.level = level
	p.writes++
	return nil
}

func (b *SimBank) Release(pin string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[pin]; ok {
		p.released = true
		p.configured = false
	}
	return nil
}

// Level returns the last level written to pin
func (b *SimBank) Level(pin string) Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[pin]; ok {
		return p.level
	}
	return Low
}

// Writes returns the number of successful writes to pin
func (b *SimBank) Writes(pin string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[pin]; ok {
		return p.writes
	}
	return 0
}

// RisingEdges returns how many low-to-high transitions pin has seen
func (b *SimBank) RisingEdges(pin string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[pin]; ok {
		return p.rising
	}
	return 0
}

// LastPulse returns the width of the most recent completed high pulse
func (b *SimBank) LastPulse(pin string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[pin]; ok {
		return p.lastPulse
	}
	return 0
}

// Released reports whether pin has been released
func (b *SimBank) Released(pin string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[pin]; ok {
		return p.released
	}
	return false
}
