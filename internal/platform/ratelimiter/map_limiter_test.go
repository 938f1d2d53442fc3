package ratelimiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidArgs(t *testing.T) {
	assert.Nil(t, New(0, 1, 0))
	assert.Nil(t, New(1, 0, 0))
	assert.Nil(t, PerHour(0))
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *MapLimiter
	assert.True(t, l.Allow("u1", time.Now()))
	assert.Zero(t, l.RetryAfter("u1", time.Now()))
	assert.Zero(t, l.Len())
}

func TestPerHourBurstThenRefill(t *testing.T) {
	l := PerHour(3)
	require.NotNil(t, l)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("u1", now), "call %d", i)
	}
	assert.False(t, l.Allow("u1", now))
	assert.True(t, l.Allow("u2", now), "keys are independent")

	wait := l.RetryAfter("u1", now)
	assert.InDelta(t, (20 * time.Minute).Seconds(), wait.Seconds(), 1)
	// RetryAfter does not consume.
	assert.False(t, l.Allow("u1", now.Add(19*time.Minute)))
	assert.True(t, l.Allow("u1", now.Add(41*time.Minute)))
}

func TestBlankKeyIsNotLimited(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("  ", now))
	}
	assert.Zero(t, l.Len())
}

func TestIdleKeysAreEvicted(t *testing.T) {
	l := New(100, 100, time.Minute)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < sweepEvery-1; i++ {
		l.Allow(fmt.Sprintf("k%d", i), start)
	}
	assert.Equal(t, sweepEvery-1, l.Len())

	l.Allow("fresh", start.Add(time.Hour))
	assert.Equal(t, 1, l.Len())
}
