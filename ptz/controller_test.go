package ptz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lasertrack/tracking"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(DefaultControllerConfig())
	require.NoError(t, err)
	return c
}

func pt(x, y float64) *tracking.Point {
	return &tracking.Point{X: x, Y: y}
}

func TestControllerStartsCentred(t *testing.T) {
	c := newTestController(t)
	pan, tilt := c.Angles()
	assert.Equal(t, 90.0, pan)
	assert.Equal(t, 60.0, tilt)
}

func TestControllerProportionalStep(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	// 100px right of the target at 50px/deg
	cmd := c.Step(pt(420, 240), pt(320, 240), now)
	require.True(t, cmd.Accepted)
	assert.True(t, cmd.LaserOn)
	assert.InDelta(t, 92.0, cmd.Pan, 1e-9)
	assert.InDelta(t, 2.0, cmd.StepPan, 1e-9)
	assert.Equal(t, 60.0, cmd.Tilt)
	assert.Equal(t, 0.0, cmd.StepTilt)

	// 60px below the target at 15px/deg, tilt axis inverted
	cmd = c.Step(pt(320, 300), pt(320, 240), now.Add(time.Second))
	require.True(t, cmd.Accepted)
	assert.InDelta(t, 56.0, cmd.Tilt, 1e-9)
	assert.InDelta(t, -4.0, cmd.StepTilt, 1e-9)
}

func TestControllerStepBounds(t *testing.T) {
	tests := []struct {
		name  string
		errPx float64
		want  float64
	}{
		{"inside deadband", 5, 0},
		{"on deadband edge", 10, 0},
		{"minimum step", 20, 0.8},
		{"proportional", 250, 5},
		{"maximum step", 2000, 20},
		{"negative", -250, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t)
			cmd := c.Step(pt(320+tt.errPx, 240), pt(320, 240), time.Now())
			require.True(t, cmd.Accepted)
			assert.InDelta(t, tt.want, cmd.StepPan, 1e-9)
			assert.InDelta(t, 90+tt.want, cmd.Pan, 1e-9)
		})
	}
}

func TestControllerRateLimit(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	first := c.Step(pt(420, 240), pt(320, 240), now)
	require.True(t, first.Accepted)

	held := c.Step(pt(420, 240), pt(320, 240), now.Add(50*time.Millisecond))
	assert.False(t, held.Accepted)
	assert.Equal(t, first.Pan, held.Pan)
	assert.Equal(t, first.Tilt, held.Tilt)

	pan, _ := c.Angles()
	assert.Equal(t, first.Pan, pan)

	next := c.Step(pt(420, 240), pt(320, 240), now.Add(100*time.Millisecond))
	assert.True(t, next.Accepted)
	assert.InDelta(t, 94.0, next.Pan, 1e-9)
}

func TestControllerClampsToLimits(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	var cmd Command
	for i := 0; i < 10; i++ {
		cmd = c.Step(pt(2000, 2000), pt(0, 0), now.Add(time.Duration(i)*time.Second))
		require.True(t, cmd.Accepted)
		assert.GreaterOrEqual(t, cmd.Pan, 30.0)
		assert.LessOrEqual(t, cmd.Pan, 150.0)
		assert.GreaterOrEqual(t, cmd.Tilt, 0.0)
		assert.LessOrEqual(t, cmd.Tilt, 120.0)
	}
	assert.Equal(t, 150.0, cmd.Pan)
	assert.Equal(t, 0.0, cmd.Tilt)
	// pinned at the limit, nothing left to apply
	assert.Equal(t, 0.0, cmd.StepPan)
}

func TestControllerHoldWithoutInput(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	// laser was never on, nothing to write
	cmd := c.Step(nil, pt(320, 240), now)
	assert.False(t, cmd.Accepted)
	assert.False(t, cmd.LaserOn)

	tracked := c.Step(pt(420, 240), pt(320, 240), now)
	require.True(t, tracked.Accepted)
	require.True(t, tracked.LaserOn)

	// losing the laser turns it off straight away, rate limit or not
	off := c.Step(pt(420, 240), nil, now.Add(10*time.Millisecond))
	assert.True(t, off.Accepted)
	assert.False(t, off.LaserOn)
	assert.Equal(t, tracked.Pan, off.Pan)
	assert.Equal(t, tracked.Tilt, off.Tilt)

	again := c.Step(nil, nil, now.Add(20*time.Millisecond))
	assert.False(t, again.Accepted)
}

func TestControllerLaserOverride(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	c.SetLaserEnabled(false)
	assert.False(t, c.LaserEnabled())

	cmd := c.Step(pt(420, 240), pt(320, 240), now)
	require.True(t, cmd.Accepted)
	assert.False(t, cmd.LaserOn)

	c.SetLaserEnabled(true)
	cmd = c.Step(pt(420, 240), pt(320, 240), now.Add(time.Second))
	assert.True(t, cmd.LaserOn)
}

func TestControllerReset(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	c.Step(pt(1000, 1000), pt(0, 0), now)
	cmd := c.Reset(now.Add(time.Second))

	assert.True(t, cmd.Accepted)
	assert.False(t, cmd.LaserOn)
	assert.Equal(t, 90.0, cmd.Pan)
	assert.Equal(t, 60.0, cmd.Tilt)

	pan, tilt := c.Angles()
	assert.Equal(t, 90.0, pan)
	assert.Equal(t, 60.0, tilt)
}

func TestControllerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ControllerConfig)
	}{
		{"inverted pan limits", func(c *ControllerConfig) { c.Pan.Min, c.Pan.Max = 150, 30 }},
		{"zero pixels per degree", func(c *ControllerConfig) { c.Tilt.PixelsPerDegree = 0 }},
		{"bad direction", func(c *ControllerConfig) { c.Pan.Direction = 0 }},
		{"max below min step", func(c *ControllerConfig) { c.MaxStep = 0.5 }},
		{"negative deadband", func(c *ControllerConfig) { c.DeadbandPx = -1 }},
		{"zero frequency", func(c *ControllerConfig) { c.MaxFrequencyHz = 0 }},
	}

	require.NoError(t, DefaultControllerConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultControllerConfig()
			tt.modify(&cfg)
			_, err := NewController(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestControllerDeadbandNeverMoves(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	var cmd Command
	for i := 0; i < 20; i++ {
		// 8px off in pan, inside the deadband; 60px off in tilt
		cmd = c.Step(pt(328, 300), pt(320, 240), now.Add(time.Duration(i)*150*time.Millisecond))
		require.True(t, cmd.Accepted)
		assert.Equal(t, 90.0, cmd.Pan)
		assert.Equal(t, 0.0, cmd.StepPan)
	}
	pan, tilt := c.Angles()
	assert.Equal(t, 90.0, pan)
	assert.Less(t, tilt, 60.0)
	assert.Equal(t, 0.0, cmd.Tilt, "tilt kept stepping until its limit")
}

func TestControllerHoldKeepsLaser(t *testing.T) {
	c := newTestController(t)
	now := time.Now()

	first := c.Step(pt(420, 240), pt(320, 240), now)
	require.True(t, first.Accepted)

	held := c.Hold(now.Add(time.Second))
	assert.False(t, held.Accepted)
	assert.True(t, held.LaserOn)
	assert.Equal(t, first.Pan, held.Pan)
	assert.Equal(t, first.Tilt, held.Tilt)

	// holding does not count as a command for the rate limiter
	next := c.Step(pt(420, 240), pt(320, 240), now.Add(time.Second))
	assert.True(t, next.Accepted)
	assert.InDelta(t, 94.0, next.Pan, 1e-9)
}
