package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLExpiresLazily(t *testing.T) {
	clock := time.Now()
	c := NewTTL(func() time.Time { return clock })
	c.Set("k", 42, 10*time.Millisecond)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	clock = clock.Add(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestThrottleEnforcesMinGap(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)
	start := time.Now()
	require.NoError(t, th.Wait(context.Background(), "host"))
	require.NoError(t, th.Wait(context.Background(), "host"))
	assert.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestRetryLinearSucceedsWithinBudget(t *testing.T) {
	calls := 0
	err := RetryLinear(context.Background(), 2, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryLinearExhaustsBudget(t *testing.T) {
	calls := 0
	err := RetryLinear(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "600519", NormalizeCode("SH600519"))
	assert.Equal(t, "000001", NormalizeCode("sz.000001"))
}

func TestWithMarketPrefix(t *testing.T) {
	assert.Equal(t, "sh600519", WithMarketPrefix("600519"))
	assert.Equal(t, "sz000001", WithMarketPrefix("000001"))
	assert.Equal(t, "sh900001", WithMarketPrefix("900001"))
}
