package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/polydocs/internal/config"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, config.RetryBackoffExponential, p.Mode)
	assert.Equal(t, 5*time.Second, p.Initial)
	assert.Equal(t, 2*time.Minute, p.Max)
	assert.NoError(t, p.Validate())
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{Backoff: config.RetryBackoffFixed, Initial: 5 * time.Second, Max: 2 * time.Second})
	assert.Equal(t, config.RetryBackoffFixed, p.Mode)
	assert.Equal(t, 2*time.Second, p.Initial, "initial is clamped to max")
	assert.Equal(t, 2*time.Second, p.Max)

	p = FromConfig(config.RetryConfig{Backoff: "random"})
	assert.Equal(t, DefaultPolicy(), p)
}

func TestDelayModes(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		mode config.RetryBackoffMode
		want []time.Duration
	}{
		{config.RetryBackoffFixed, []time.Duration{100 * ms, 100 * ms, 100 * ms, 100 * ms}},
		{config.RetryBackoffLinear, []time.Duration{100 * ms, 200 * ms, 250 * ms, 250 * ms}},
		{config.RetryBackoffExponential, []time.Duration{100 * ms, 200 * ms, 250 * ms, 250 * ms}},
	}
	for _, tt := range tests {
		p := FromConfig(config.RetryConfig{Backoff: tt.mode, Initial: 100 * ms, Max: 250 * ms})
		for i, want := range tt.want {
			assert.Equal(t, want, p.Delay(i+1), "%s attempt %d", tt.mode, i+1)
		}
	}
}

func TestDelayEdgeCases(t *testing.T) {
	p := DefaultPolicy()
	assert.Zero(t, p.Delay(0))
	assert.Zero(t, p.Delay(-1))
	assert.Equal(t, p.Max, p.Delay(100))
}

func TestValidate(t *testing.T) {
	assert.Error(t, Policy{Initial: 0, Max: time.Second}.Validate())
	assert.Error(t, Policy{Initial: time.Second}.Validate())
}
