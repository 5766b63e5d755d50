package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledReturnsNil(t *testing.T) {
	assert.Nil(t, New(0, 10))
	assert.Nil(t, New(-1, 10))
}

func TestNilLimiterPermitsEverything(t *testing.T) {
	var l *Limiter

	assert.True(t, l.Allow())

	throttled, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, throttled)

	l.SetLimit(5)
	assert.Zero(t, l.Tokens())
}

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := New(1, 3)
	require.NotNil(t, l)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "request %d within burst", i)
	}
	assert.False(t, l.Allow())
}

func TestLimiter_WaitReportsThrottling(t *testing.T) {
	l := New(1000, 1)

	throttled, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, throttled)

	// The bucket is empty now; the next token arrives after ~1ms.
	throttled, err = l.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, throttled)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := New(0.001, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	throttled, err := l.Wait(ctx)
	assert.True(t, throttled)
	assert.Error(t, err)
}

func TestLimiter_ZeroBurstIsRaised(t *testing.T) {
	l := New(10, 0)
	assert.True(t, l.Allow())
}

func TestLimiter_SetLimitRemovesLimit(t *testing.T) {
	l := New(1, 1)
	require.True(t, l.Allow())
	require.False(t, l.Allow())

	l.SetLimit(0)
	assert.True(t, l.Allow())
}
