package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmitQuotaPlusOne(t *testing.T) {
	l := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit("u1"), "event %d should be admitted", i+1)
	}
	assert.False(t, l.Admit("u1"), "quota+1 must be denied")
	assert.Equal(t, 0, l.Remaining("u1"))
}

func TestDenialDoesNotConsume(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	now := time.Now()
	l.SetClock(func() time.Time { return now })

	assert.True(t, l.Admit("u1"))
	assert.False(t, l.Admit("u1"))
	assert.False(t, l.Admit("u1"))

	// After the window resets, the full quota is available again: the
	// denials above must not have counted.
	now = now.Add(time.Minute)
	assert.True(t, l.Admit("u1"))
}

func TestWindowReset(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	now := time.Now()
	l.SetClock(func() time.Time { return now })

	assert.True(t, l.Admit("u1"))
	assert.True(t, l.Admit("u1"))
	assert.False(t, l.Admit("u1"))

	now = now.Add(59 * time.Second)
	assert.False(t, l.Admit("u1"), "window has not elapsed yet")

	now = now.Add(time.Second)
	assert.True(t, l.Admit("u1"), "window elapsed, counter resets")
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	assert.True(t, l.Admit("u1"))
	assert.True(t, l.Admit("u2"))
	assert.False(t, l.Admit("u1"))
}

func TestZeroQuotaDisables(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Admit("u1"))
	}
}

func TestPrune(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	now := time.Now()
	l.SetClock(func() time.Time { return now })

	l.Admit("u1")
	now = now.Add(2 * time.Minute)
	l.Prune()

	assert.Equal(t, 1, l.Remaining("u1"))
}
