package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestDo_CachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(clock.Now)

	calls := 0
	compute := func() (any, error) {
		calls++
		return "payload", nil
	}

	first, err := c.Do("k", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "payload", first.Value)

	second, err := c.Do("k", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 1, calls)
	assert.Equal(t, clock.now.Add(time.Minute), second.StaleAt)
}

func TestDo_RecomputesAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(clock.Now)

	calls := 0
	compute := func() (any, error) {
		calls++
		return calls, nil
	}

	_, err := c.Do("k", time.Minute, compute)
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)

	res, err := c.Do("k", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, res.Value)
}

func TestDo_ServesStaleOnComputeFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(clock.Now)

	_, err := c.Do("k", time.Minute, func() (any, error) { return "old", nil })
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	res, err := c.Do("k", time.Minute, func() (any, error) { return nil, errors.New("db down") })
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "old", res.Value)
}

func TestDo_PropagatesErrorWithoutStaleEntry(t *testing.T) {
	c := New(nil)

	_, err := c.Do("k", time.Minute, func() (any, error) { return nil, errors.New("db down") })
	assert.Error(t, err)
}

func TestDo_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(clock.Now)

	_, err := c.Do("a", time.Minute, func() (any, error) { return "a", nil })
	require.NoError(t, err)

	res, err := c.Do("b", time.Minute, func() (any, error) { return "b", nil })
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "b", res.Value)
}

func TestInvalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(clock.Now)

	calls := 0
	compute := func() (any, error) {
		calls++
		return calls, nil
	}

	_, err := c.Do("k", time.Minute, compute)
	require.NoError(t, err)
	c.Invalidate("k")

	res, err := c.Do("k", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, res.Value)
}
