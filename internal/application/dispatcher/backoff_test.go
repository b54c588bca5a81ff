package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Next(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: 10 * time.Second, MaxAttempts: 6}

	tests := []struct {
		attempts int
		want     time.Duration
		stop     bool
	}{
		{1, time.Second, false},
		{2, 2 * time.Second, false},
		{3, 4 * time.Second, false},
		{4, 8 * time.Second, false},
		{5, 10 * time.Second, false},
		{6, 0, true},
		{9, 0, true},
	}

	for _, tt := range tests {
		delay, stop := p.Next(tt.attempts)
		assert.Equal(t, tt.stop, stop, "attempts=%d", tt.attempts)
		assert.Equal(t, tt.want, delay, "attempts=%d", tt.attempts)
	}
}

func TestBackoffPolicy_Jitter(t *testing.T) {
	p := BackoffPolicy{Base: 10 * time.Second, Max: time.Hour, JitterPercent: 20, MaxAttempts: 10}

	for i := 0; i < 50; i++ {
		delay, stop := p.Next(2)
		assert.False(t, stop)
		assert.GreaterOrEqual(t, delay, 16*time.Second)
		assert.LessOrEqual(t, delay, 24*time.Second)
	}
}

func TestBackoffPolicy_CapAppliesAfterJitter(t *testing.T) {
	p := BackoffPolicy{Base: time.Minute, Max: 90 * time.Second, JitterPercent: 50, MaxAttempts: 10}

	for i := 0; i < 20; i++ {
		delay, _ := p.Next(5)
		assert.LessOrEqual(t, delay, 90*time.Second)
	}
}

func TestBackoffPolicy_Defaults(t *testing.T) {
	p := BackoffPolicy{}.normalized()
	d := DefaultBackoffPolicy()
	assert.Equal(t, d.Base, p.Base)
	assert.Equal(t, d.Max, p.Max)
	assert.Equal(t, d.MaxAttempts, p.MaxAttempts)
	assert.Zero(t, p.JitterPercent, "zero jitter is a valid choice")

	delay, stop := BackoffPolicy{MaxAttempts: 1}.Next(1)
	assert.True(t, stop, "a single attempt leaves no retries")
	assert.Zero(t, delay)
}
