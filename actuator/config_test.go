package actuator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	valid := ServoConfig("pan", "GPIO13", 30, 150)
	require.NoError(t, valid.Validate())
	require.NoError(t, LightConfig("eyes", "GPIO23").Validate())
	require.NoError(t, SwitchConfig("laser", "GPIO5", true).Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty pin", func(c *Config) { c.Pin = "" }},
		{"zero frequency", func(c *Config) { c.FrequencyHz = 0 }},
		{"negative frequency", func(c *Config) { c.FrequencyHz = -50 }},
		{"inverted range", func(c *Config) { c.Min, c.Max = 150, 30 }},
		{"empty range", func(c *Config) { c.Max = c.Min }},
		{"zero delta", func(c *Config) { c.MaxDeltaPerCycle = 0 }},
		{"inverted pulses", func(c *Config) { c.MinPulse, c.MaxPulse = c.MaxPulse, c.MinPulse }},
		{"pulse exceeds period", func(c *Config) { c.FrequencyHz = 1000 }},
		{"zero travel", func(c *Config) { c.TravelDegrees = 0 }},
		{"unknown kind", func(c *Config) { c.Kind = Kind(42) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigPeriod(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, ServoConfig("pan", "GPIO13", 0, 180).Period())
	assert.Equal(t, time.Millisecond, LightConfig("eyes", "GPIO23").Period())
}

func TestLightRejectsBadGamma(t *testing.T) {
	cfg := LightConfig("eyes", "GPIO23")
	cfg.Gamma = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
