package actuator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBank struct {
	*SimBank
	configureErr error
}

func (b *failingBank) Configure(pin string, mode Mode, initial Level) error {
	if b.configureErr != nil {
		return b.configureErr
	}
	return b.SimBank.Configure(pin, mode, initial)
}

func testServo() Config {
	cfg := ServoConfig("pan", "GPIO13", 30, 150)
	cfg.FrequencyHz = 200 // 5ms cycles keep the tests quick
	cfg.Calibrate = false
	return cfg
}

func TestDriverStartsAtInitialValue(t *testing.T) {
	bank := NewSimBank()
	d, err := Start(bank, testServo())
	require.NoError(t, err)
	defer d.Stop()

	assert.Equal(t, 90.0, d.Target())
	assert.Equal(t, 90.0, d.Current())

	require.Eventually(t, func() bool { return bank.RisingEdges("GPIO13") > 3 }, time.Second, time.Millisecond)
}

func TestDriverSetTargetClamps(t *testing.T) {
	d, err := Start(NewSimBank(), testServo())
	require.NoError(t, err)
	defer d.Stop()

	d.SetTarget(500)
	assert.Equal(t, 150.0, d.Target())

	d.SetTarget(-10)
	assert.Equal(t, 30.0, d.Target())
}

func TestDriverApproachesTargetGradually(t *testing.T) {
	cfg := testServo()
	cfg.MaxDeltaPerCycle = 1
	d, err := Start(NewSimBank(), cfg)
	require.NoError(t, err)
	defer d.Stop()

	d.SetTarget(100)

	// never jumps past the step limit
	prev := d.Current()
	deadline := time.Now().Add(2 * time.Second)
	for d.Current() != 100 && time.Now().Before(deadline) {
		cur := d.Current()
		assert.LessOrEqual(t, cur-prev, 1.0+1e-9)
		assert.LessOrEqual(t, cur, 100.0)
		prev = cur
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 100.0, d.Current())
	assert.False(t, d.Moving())
}

func TestDriverPulseWidthTracksValue(t *testing.T) {
	bank := NewSimBank()
	cfg := testServo()
	cfg.Initial = 150
	d, err := Start(bank, cfg)
	require.NoError(t, err)
	defer d.Stop()

	require.Eventually(t, func() bool { return bank.LastPulse("GPIO13") > 0 }, time.Second, time.Millisecond)

	// 150 degrees is 2166us nominal; allow generous scheduling slack
	assert.InDelta(t, 2166, bank.LastPulse("GPIO13").Microseconds(), 1500)
}

func TestDriverStopForcesSafeLevelAndReleases(t *testing.T) {
	bank := NewSimBank()
	d, err := Start(bank, testServo())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.Cycles() > 2 }, time.Second, time.Millisecond)
	require.NoError(t, d.Stop())

	assert.False(t, d.Running())
	assert.Equal(t, Low, bank.Level("GPIO13"))
	assert.True(t, bank.Released("GPIO13"))

	select {
	case <-d.Done():
	default:
		t.Fatal("loop still running after Stop")
	}

	// idempotent
	assert.NoError(t, d.Stop())
}

func TestDriverWriteFailureEndsOnlyThatLoop(t *testing.T) {
	bank := NewSimBank()
	bank.FailAfter("GPIO13", 10)

	pan, err := Start(bank, testServo())
	require.NoError(t, err)
	tiltCfg := testServo()
	tiltCfg.Name = "tilt"
	tiltCfg.Pin = "GPIO12"
	tilt, err := Start(bank, tiltCfg)
	require.NoError(t, err)
	defer tilt.Stop()

	select {
	case <-pan.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("failing driver did not exit")
	}
	assert.ErrorIs(t, pan.Err(), ErrHardwareIO)
	assert.False(t, pan.Running())

	// the other axis keeps pulsing
	before := tilt.Cycles()
	require.Eventually(t, func() bool { return tilt.Cycles() > before+3 }, time.Second, time.Millisecond)
	assert.NoError(t, tilt.Err())

	// stop still parks the failed pin
	require.NoError(t, pan.Stop())
	assert.Equal(t, Low, bank.Level("GPIO13"))
	assert.True(t, bank.Released("GPIO13"))
}

func TestDriverInvalidConfigNeverTouchesPin(t *testing.T) {
	bank := NewSimBank()
	cfg := testServo()
	cfg.FrequencyHz = 0

	d, err := Start(bank, cfg)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 0, bank.Writes("GPIO13"))
}

func TestDriverConfigureFailure(t *testing.T) {
	bank := &failingBank{SimBank: NewSimBank(), configureErr: errors.New("no such line")}
	d, err := Start(bank, testServo())
	assert.Nil(t, d)
	assert.ErrorContains(t, err, "no such line")
}

func TestSwitchActiveLow(t *testing.T) {
	bank := NewSimBank()
	cfg := SwitchConfig("laser", "GPIO5", true)
	cfg.FrequencyHz = 500
	d, err := Start(bank, cfg)
	require.NoError(t, err)

	// off at start means the line sits high
	require.Eventually(t, func() bool { return d.Cycles() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, High, bank.Level("GPIO5"))

	d.SetTarget(1)
	require.Eventually(t, func() bool { return bank.Level("GPIO5") == Low }, time.Second, time.Millisecond)

	// level is only rewritten on change
	writes := bank.Writes("GPIO5")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, writes, bank.Writes("GPIO5"))

	require.NoError(t, d.Stop())
	assert.Equal(t, High, bank.Level("GPIO5"))
}

func TestDriverCalibration(t *testing.T) {
	bank := NewSimBank()
	cfg := testServo()
	cfg.Calibrate = true
	cfg.CalibrationSamples = 20

	d, err := Start(bank, cfg)
	require.NoError(t, err)
	defer d.Stop()

	require.Eventually(t, func() bool { return d.Cycles() > 0 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, d.Compensation(), time.Duration(0))
	assert.GreaterOrEqual(t, bank.Writes("GPIO13"), 40)
}

func TestMeasureSwitchingLatency(t *testing.T) {
	bank := NewSimBank()
	require.NoError(t, bank.Configure("GPIO7", Output, Low))

	lat, err := MeasureSwitchingLatency(bank, "GPIO7", 50)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lat, time.Duration(0))
	assert.Equal(t, 100, bank.Writes("GPIO7"))
	assert.Equal(t, Low, bank.Level("GPIO7"))

	_, err = MeasureSwitchingLatency(bank, "GPIO7", 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWaitUntil(t *testing.T) {
	for _, d := range []time.Duration{200 * time.Microsecond, 3 * time.Millisecond} {
		deadline := time.Now().Add(d)
		waitUntil(deadline)
		assert.False(t, time.Now().Before(deadline))
	}
}

// newIdleDriver builds a driver without starting its loop so single pulses
// can be driven by hand
func newIdleDriver(t *testing.T, bank *SimBank, cfg Config, comp time.Duration) *Driver {
	t.Helper()
	require.NoError(t, bank.Configure(cfg.Pin, Output, Low))
	d := &Driver{cfg: cfg, bank: bank, period: cfg.Period(), done: make(chan struct{})}
	d.compensation.Store(int64(comp))
	return d
}

func TestDriverPulseSubtractsCompensation(t *testing.T) {
	bank := NewSimBank()
	d := newIdleDriver(t, bank, testServo(), 200*time.Microsecond)

	require.NoError(t, d.pulse(time.Now(), 90))
	assert.Equal(t, Low, bank.Level("GPIO13"))
	assert.Equal(t, 1, bank.RisingEdges("GPIO13"))
	// 1.5ms nominal less 200µs
	assert.GreaterOrEqual(t, bank.LastPulse("GPIO13"), 1200*time.Microsecond)
}

func TestDriverPulseCompensationSwallowsPulse(t *testing.T) {
	bank := NewSimBank()
	d := newIdleDriver(t, bank, testServo(), 3*time.Millisecond)

	require.NoError(t, d.pulse(time.Now(), 90))
	assert.Equal(t, Low, bank.Level("GPIO13"))
	assert.Equal(t, 0, bank.RisingEdges("GPIO13"))
	assert.Equal(t, 1, bank.Writes("GPIO13"))
}

func TestDriverPulseFullDutyStaysHigh(t *testing.T) {
	bank := NewSimBank()
	cfg := LightConfig("eyes", "GPIO23")
	d := newIdleDriver(t, bank, cfg, 50*time.Microsecond)

	require.NoError(t, d.pulse(time.Now(), 100))
	assert.Equal(t, High, bank.Level("GPIO23"))
	assert.Equal(t, 1, bank.Writes("GPIO23"))
}
