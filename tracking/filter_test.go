package tracking

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lasertrack/detection"
)

func seen(x, y int) detection.RawDetection {
	return detection.RawDetection{
		Center:     image.Pt(x, y),
		Found:      true,
		Confidence: 1,
		Strategy:   detection.RedChannel,
		Threshold:  177,
	}
}

var missing = detection.RawDetection{}

func newTestFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := NewFilter(DefaultConfig())
	require.NoError(t, err)
	return f
}

func TestFilterSeedsFromLost(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()

	st := f.Update(seen(320, 240), now)
	assert.Equal(t, EventSeeded, st.Event)
	assert.True(t, st.Tracked)
	assert.Equal(t, Point{320, 240}, st.Smoothed)
	assert.Equal(t, []Point{{320, 240}}, st.History)
	require.NotNil(t, st.Target())
	assert.Equal(t, Point{320, 240}, *st.Target())
}

func TestFilterEMA(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()

	f.Update(seen(100, 100), now)
	st := f.Update(seen(110, 90), now.Add(33*time.Millisecond))

	assert.Equal(t, EventAccepted, st.Event)
	assert.InDelta(t, 103, st.Smoothed.X, 1e-9)
	assert.InDelta(t, 97, st.Smoothed.Y, 1e-9)
	assert.Len(t, st.History, 2)
}

func TestFilterRecoveryConfirmation(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	f.Update(seen(100, 100), now)

	// RecoveryCount-1 outliers leave the estimate alone
	for i := 1; i < f.Config().RecoveryCount; i++ {
		st := f.Update(seen(400, 400), now.Add(time.Duration(i)*10*time.Millisecond))
		assert.Equal(t, EventRejected, st.Event)
		assert.Equal(t, Point{100, 100}, st.Smoothed)
		assert.Equal(t, i, st.ConsecutiveOutliers)
		assert.Len(t, st.History, 1)
	}

	st := f.Update(seen(400, 400), now.Add(time.Second/2))
	assert.Equal(t, EventRecovered, st.Event)
	assert.Equal(t, Point{400, 400}, st.Smoothed)
	assert.Equal(t, 0, st.ConsecutiveOutliers)
	assert.Equal(t, []Point{{400, 400}}, st.History)
}

func TestFilterAcceptedSampleResetsOutlierCount(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	f.Update(seen(100, 100), now)

	f.Update(seen(400, 400), now)
	f.Update(seen(400, 400), now)
	st := f.Update(seen(102, 100), now)
	assert.Equal(t, EventAccepted, st.Event)
	assert.Equal(t, 0, st.ConsecutiveOutliers)

	// the run starts over
	st = f.Update(seen(400, 400), now)
	assert.Equal(t, EventRejected, st.Event)
	assert.Equal(t, 1, st.ConsecutiveOutliers)
}

func TestFilterJumpScenario(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	step := 33 * time.Millisecond

	f.Update(seen(100, 100), now)
	f.Update(seen(101, 99), now.Add(step))

	st := f.Update(seen(250, 250), now.Add(2*step))
	assert.Equal(t, EventRejected, st.Event)
	assert.Equal(t, 1, st.ConsecutiveOutliers)
	assert.InDelta(t, 100, st.Smoothed.X, 1)
	assert.InDelta(t, 100, st.Smoothed.Y, 1)

	st = f.Update(seen(252, 248), now.Add(3*step))
	assert.Equal(t, EventRejected, st.Event)
	assert.InDelta(t, 100, st.Smoothed.X, 1)

	// third consecutive outlier confirms the move
	st = f.Update(seen(251, 251), now.Add(4*step))
	assert.Equal(t, EventRecovered, st.Event)
	assert.Equal(t, Point{251, 251}, st.Smoothed)
}

func TestFilterTimeoutLosesTrack(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	f.Update(seen(100, 100), now)
	f.Update(seen(104, 100), now.Add(100*time.Millisecond))

	st := f.Update(missing, now.Add(600*time.Millisecond))
	assert.Equal(t, EventMissed, st.Event)
	assert.True(t, st.Tracked)
	assert.InDelta(t, 101.2, st.Smoothed.X, 1e-9)

	st = f.Update(missing, now.Add(1200*time.Millisecond))
	assert.Equal(t, EventLost, st.Event)
	assert.False(t, st.Tracked)
	assert.Nil(t, st.Target())
	assert.Equal(t, Point{}, st.Smoothed)
	assert.Empty(t, st.History)

	// reseeds directly, no averaging with the old estimate
	st = f.Update(seen(500, 20), now.Add(1300*time.Millisecond))
	assert.Equal(t, EventSeeded, st.Event)
	assert.Equal(t, Point{500, 20}, st.Smoothed)
}

func TestFilterRejectedSamplesDoNotExtendMemory(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	f.Update(seen(100, 100), now)
	f.Update(seen(400, 400), now.Add(900*time.Millisecond))

	st := f.Update(missing, now.Add(1100*time.Millisecond))
	assert.Equal(t, EventLost, st.Event)
}

func TestFilterMissWhileLost(t *testing.T) {
	f := newTestFilter(t)
	st := f.Update(missing, time.Now())
	assert.Equal(t, EventMissed, st.Event)
	assert.False(t, st.Tracked)
	assert.Nil(t, st.Target())
}

func TestFilterHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 4
	f, err := NewFilter(cfg)
	require.NoError(t, err)

	now := time.Now()
	var st FilterState
	for i := 0; i < 10; i++ {
		st = f.Update(seen(100+i, 100), now)
	}
	require.Len(t, st.History, 4)
	assert.Equal(t, Point{106, 100}, st.History[0])
	assert.Equal(t, Point{109, 100}, st.History[3])
}

func TestFilterReset(t *testing.T) {
	f := newTestFilter(t)
	f.Update(seen(100, 100), time.Now())
	require.True(t, f.Tracked())

	f.Reset()
	assert.False(t, f.Tracked())

	st := f.Update(seen(10, 10), time.Now())
	assert.Equal(t, EventSeeded, st.Event)
}

func TestFilterConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero alpha", func(c *Config) { c.Alpha = 0 }},
		{"alpha above one", func(c *Config) { c.Alpha = 1.5 }},
		{"zero recovery alpha", func(c *Config) { c.RecoveryAlpha = 0 }},
		{"zero threshold", func(c *Config) { c.OutlierThreshold = 0 }},
		{"zero recovery count", func(c *Config) { c.RecoveryCount = 0 }},
		{"zero timeout", func(c *Config) { c.MemoryTimeout = 0 }},
		{"empty history", func(c *Config) { c.HistorySize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewFilter(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEventFresh(t *testing.T) {
	fresh := map[Event]bool{
		EventNone:      false,
		EventSeeded:    true,
		EventAccepted:  true,
		EventRejected:  false,
		EventRecovered: true,
		EventMissed:    false,
		EventLost:      false,
	}
	for ev, want := range fresh {
		assert.Equal(t, want, ev.Fresh(), ev.String())
	}
}
