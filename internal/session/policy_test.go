package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/talkincode/wagate/config"
)

func TestBackoffDelayClampsToFinalTier(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 5 * time.Second},
		{attempt: 1, want: 5 * time.Second},
		{attempt: 2, want: 15 * time.Second},
		{attempt: 3, want: 30 * time.Second},
		{attempt: 4, want: 60 * time.Second},
		{attempt: 5, want: 120 * time.Second},
		{attempt: 6, want: 120 * time.Second},
		{attempt: 100, want: 120 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.BackoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffDelayEmptyLadder(t *testing.T) {
	p := Policy{}
	assert.Equal(t, 30*time.Second, p.BackoffDelay(1))
}

func TestIsTransient(t *testing.T) {
	p := DefaultPolicy()
	for _, code := range []int{408, 429, 500, 503} {
		assert.True(t, p.IsTransient(code), "code %d", code)
	}
	for _, code := range []int{0, 401, 404, 502} {
		assert.False(t, p.IsTransient(code), "code %d", code)
	}
}

func TestPolicyFromConfigOverrides(t *testing.T) {
	p := PolicyFromConfig(config.WhatsappConfig{
		ConnectWaitSec:    10,
		KeepaliveSec:      120,
		HealthThreshold:   5,
		BackoffLadderSec:  []int{1, 2},
		TransientDelaySec: 7,
	})

	assert.Equal(t, 10*time.Second, p.ConnectWait)
	assert.Equal(t, 120*time.Second, p.Keepalive)
	assert.Equal(t, 5, p.HealthThreshold)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, p.BackoffLadder)
	assert.Equal(t, 7*time.Second, p.TransientDelay)
	// untouched knobs keep their defaults
	assert.Equal(t, time.Minute, p.HealthInterval)
	assert.Equal(t, 2*time.Minute, p.HealthGrace)
}
